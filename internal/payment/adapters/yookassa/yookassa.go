package yookassa

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
	return "yookassa"
}

func (f *Factory) NewAdapter(creds domain.WebhookCredentials) (domain.Adapter, error) {
	secret := strings.TrimSpace(creds.YookassaSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("X-Yookassa-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.TopupEvent, error) {
	var notification yookassaNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	switch strings.TrimSpace(notification.Event) {
	case "payment.succeeded":
	case "payment.canceled", "payment.waiting_for_capture", "refund.succeeded":
		return nil, domain.ErrEventIgnored
	default:
		return nil, domain.ErrEventIgnored
	}

	object := notification.Object
	if strings.TrimSpace(object.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	amountKopeks, err := parseDecimalKopeks(object.Amount.Value)
	if err != nil || amountKopeks <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	telegramID, err := strconv.ParseInt(strings.TrimSpace(object.Metadata.TelegramID), 10, 64)
	if err != nil || telegramID == 0 {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if object.CapturedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, object.CapturedAt); err == nil {
			occurredAt = parsed.UTC()
		}
	}

	return &domain.TopupEvent{
		Provider:     "yookassa",
		ExternalID:   object.ID,
		TelegramID:   telegramID,
		AmountKopeks: amountKopeks,
		Currency:     strings.ToUpper(strings.TrimSpace(object.Amount.Currency)),
		Description:  strings.TrimSpace(object.Description),
		OccurredAt:   occurredAt,
		RawPayload:   payload,
	}, nil
}

type yookassaNotification struct {
	Event  string         `json:"event"`
	Object yookassaObject `json:"object"`
}

type yookassaObject struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Description string           `json:"description"`
	CapturedAt  string           `json:"captured_at"`
	Amount      yookassaAmount   `json:"amount"`
	Metadata    yookassaMetadata `json:"metadata"`
}

type yookassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yookassaMetadata struct {
	TelegramID string `json:"telegram_id"`
}

// parseDecimalKopeks converts a decimal ruble string ("990.00", "990")
// into kopeks without floating point.
func parseDecimalKopeks(value string) (int64, error) {
	value = strings.TrimSpace(value)
	whole, frac, _ := strings.Cut(value, ".")

	rubles, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	var kopeks int64
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		kopeks, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	return rubles*100 + kopeks, nil
}
