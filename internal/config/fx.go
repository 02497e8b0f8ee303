package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRoutingRulesHolder),
	fx.Provide(func(h *RoutingRulesHolder) RoutingRulesSource { return h }),
)
