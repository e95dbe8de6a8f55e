package stars

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nebulink/vpnbroker/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stars"
}

func (f *Factory) NewAdapter(creds domain.WebhookCredentials) (domain.Adapter, error) {
	secret := strings.TrimSpace(creds.StarsSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{secret: secret}, nil
}

// Adapter handles Telegram Stars payments forwarded by the bot front-end.
// The front-end already trusts Telegram's successful_payment update, so
// the hop to us is protected by a shared-secret HMAC.
type Adapter struct {
	secret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("X-Stars-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.TopupEvent, error) {
	var event starsPayment
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ChargeID) == "" || event.TelegramID == 0 {
		return nil, domain.ErrInvalidEvent
	}
	if event.AmountKopeks <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	occurredAt := time.Now().UTC()
	if event.PaidAtUnix > 0 {
		occurredAt = time.Unix(event.PaidAtUnix, 0).UTC()
	}

	return &domain.TopupEvent{
		Provider:     "stars",
		ExternalID:   event.ChargeID,
		TelegramID:   event.TelegramID,
		AmountKopeks: event.AmountKopeks,
		Currency:     "XTR",
		Description:  strings.TrimSpace(event.Description),
		OccurredAt:   occurredAt,
		RawPayload:   payload,
		Metadata: map[string]any{
			"stars_amount": event.StarsAmount,
		},
	}, nil
}

type starsPayment struct {
	ChargeID     string `json:"telegram_payment_charge_id"`
	TelegramID   int64  `json:"telegram_id"`
	StarsAmount  int64  `json:"stars_amount"`
	AmountKopeks int64  `json:"amount_kopeks"`
	Description  string `json:"description"`
	PaidAtUnix   int64  `json:"paid_at"`
}
