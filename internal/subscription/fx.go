package subscription

import (
	"github.com/nebulink/vpnbroker/internal/subscription/repository"
	"github.com/nebulink/vpnbroker/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
