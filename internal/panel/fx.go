package panel

import "go.uber.org/fx"

var Module = fx.Module("panel.client",
	fx.Provide(NewClient),
)
