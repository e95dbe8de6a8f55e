package receipts

import (
	"github.com/nebulink/vpnbroker/internal/receipts/repository"
	"github.com/nebulink/vpnbroker/internal/receipts/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receipts.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
