package pricing

import (
	"github.com/nebulink/vpnbroker/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing",
	fx.Provide(func(cfg config.Config, table config.PriceTable) *Engine {
		return NewEngine(table, cfg.Devices)
	}),
)
