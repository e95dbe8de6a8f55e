package user

import (
	"github.com/nebulink/vpnbroker/internal/user/repository"
	"github.com/nebulink/vpnbroker/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
