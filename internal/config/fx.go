package config

import "go.uber.org/fx"

// Module wires application config and the hot-reloadable pricing catalog.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)
