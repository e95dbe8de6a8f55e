package domain

import (
	"context"
	"net/http"
)

// Adapter normalizes one payment provider's webhook surface: verify the
// signature, then parse the payload into the canonical TopupEvent.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*TopupEvent, error)
}

// WebhookCredentials carries the per-provider secrets adapters verify with.
type WebhookCredentials struct {
	YookassaSecret string
	CryptobotToken string
	StarsSecret    string
}

// AdapterFactory builds a provider's adapter from credentials.
type AdapterFactory interface {
	Provider() string
	NewAdapter(creds WebhookCredentials) (Adapter, error)
}
