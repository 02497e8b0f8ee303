package sessioncache

import (
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("routing.sessioncache",
	fx.Provide(New),
	fx.Provide(func(c *Cache) routingdomain.SessionCache { return c }),
)
