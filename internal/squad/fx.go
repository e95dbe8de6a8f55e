package squad

import (
	"github.com/nebulink/vpnbroker/internal/squad/repository"
	"github.com/nebulink/vpnbroker/internal/squad/service"
	"go.uber.org/fx"
)

var Module = fx.Module("squad.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
