package payment

import (
	"github.com/nebulink/vpnbroker/internal/payment/adapters"
	"github.com/nebulink/vpnbroker/internal/payment/adapters/cryptobot"
	"github.com/nebulink/vpnbroker/internal/payment/adapters/stars"
	"github.com/nebulink/vpnbroker/internal/payment/adapters/yookassa"
	"github.com/nebulink/vpnbroker/internal/payment/repository"
	paymentservice "github.com/nebulink/vpnbroker/internal/payment/service"
	"github.com/nebulink/vpnbroker/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			yookassa.NewFactory(),
			cryptobot.NewFactory(),
			stars.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
