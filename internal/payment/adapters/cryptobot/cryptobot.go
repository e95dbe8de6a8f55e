package cryptobot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nebulink/vpnbroker/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "cryptobot"
}

func (f *Factory) NewAdapter(creds domain.WebhookCredentials) (domain.Adapter, error) {
	token := strings.TrimSpace(creds.CryptobotToken)
	if token == "" {
		return nil, domain.ErrInvalidConfig
	}
	// Crypto Pay signs webhooks with HMAC-SHA256 keyed by SHA256(api token).
	key := sha256.Sum256([]byte(token))
	return &Adapter{signingKey: key[:]}, nil
}

type Adapter struct {
	signingKey []byte
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("Crypto-Pay-Api-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.signingKey)
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.TopupEvent, error) {
	var update cryptobotUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	if strings.TrimSpace(update.UpdateType) != "invoice_paid" {
		return nil, domain.ErrEventIgnored
	}

	invoice := update.Payload
	if invoice.InvoiceID == 0 {
		return nil, domain.ErrInvalidEvent
	}

	// The invoice payload is set at creation time and round-trips the
	// chat id plus the quoted ruble amount.
	var custom invoiceCustomPayload
	if err := json.Unmarshal([]byte(invoice.CustomPayload), &custom); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if custom.TelegramID == 0 || custom.AmountKopeks <= 0 {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if invoice.PaidAt != "" {
		if parsed, err := time.Parse(time.RFC3339, invoice.PaidAt); err == nil {
			occurredAt = parsed.UTC()
		}
	}

	return &domain.TopupEvent{
		Provider:     "cryptobot",
		ExternalID:   strconv.FormatInt(invoice.InvoiceID, 10),
		TelegramID:   custom.TelegramID,
		AmountKopeks: custom.AmountKopeks,
		Currency:     strings.ToUpper(strings.TrimSpace(invoice.Asset)),
		Description:  strings.TrimSpace(invoice.Description),
		OccurredAt:   occurredAt,
		RawPayload:   payload,
		Metadata: map[string]any{
			"asset":  invoice.Asset,
			"amount": invoice.Amount,
		},
	}, nil
}

type cryptobotUpdate struct {
	UpdateID   int64            `json:"update_id"`
	UpdateType string           `json:"update_type"`
	Payload    cryptobotInvoice `json:"payload"`
}

type cryptobotInvoice struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Description   string `json:"description"`
	PaidAt        string `json:"paid_at"`
	CustomPayload string `json:"payload"`
}

type invoiceCustomPayload struct {
	TelegramID   int64 `json:"telegram_id"`
	AmountKopeks int64 `json:"amount_kopeks"`
}
