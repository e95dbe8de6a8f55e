package checkout

import (
	"github.com/nebulink/vpnbroker/internal/checkout/service"
	"github.com/nebulink/vpnbroker/internal/checkout/store"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(store.NewRedisStore),
	fx.Provide(service.NewService),
)
