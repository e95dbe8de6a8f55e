package events

import (
	"github.com/nebulink/vpnbroker/internal/events/repository"
	"github.com/nebulink/vpnbroker/internal/events/service"
	"go.uber.org/fx"
)

var Module = fx.Module("events.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
