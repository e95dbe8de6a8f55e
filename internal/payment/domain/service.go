package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type CreateIntentRequest struct {
	UserID       snowflake.ID
	Provider     string
	AmountKopeks int64
}

// Ingress is the webhook entry point: verify the provider signature,
// parse the payload into a TopupEvent and hand it to the Service.
type Ingress interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type Service interface {
	// ProcessTopup credits the wallet exactly once per
	// (provider, external_id). Replays succeed without side effects.
	ProcessTopup(ctx context.Context, event TopupEvent) error
	// CreateIntent records a payment attempt before redirecting the user
	// to the provider.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Payment, error)
	ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]Transaction, error)
}
