package promogroup

import (
	"github.com/nebulink/vpnbroker/internal/promogroup/repository"
	"github.com/nebulink/vpnbroker/internal/promogroup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promogroup.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
