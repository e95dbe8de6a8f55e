package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/nebulink/vpnbroker/internal/payment/adapters"
	"github.com/nebulink/vpnbroker/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc domain.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
}

type Service struct {
	log        *zap.Logger
	paymentSvc domain.Service
	adapters   *adapters.Registry
	creds      domain.WebhookCredentials
}

func NewService(p Params) domain.Ingress {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		creds: domain.WebhookCredentials{
			YookassaSecret: p.Cfg.Webhooks.YookassaSecret,
			CryptobotToken: p.Cfg.Webhooks.CryptobotToken,
			StarsSecret:    p.Cfg.Webhooks.StarsSecret,
		},
	}
}

// IngestWebhook implements domain.Ingress. Ignored event kinds return
// nil so the provider gets a 200 and stops retrying.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return domain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, s.creds)
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil
		}
		s.log.Warn("webhook payload rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return err
	}

	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	return s.paymentSvc.ProcessTopup(ctx, *event)
}
