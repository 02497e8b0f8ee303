package booking

import (
	"github.com/smallbiznis/farerouter/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(service.NewRouter),
)
