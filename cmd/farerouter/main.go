package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/farerouter/internal/booking"
	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/commission"
	"github.com/smallbiznis/farerouter/internal/config"
	"github.com/smallbiznis/farerouter/internal/decisionlog"
	"github.com/smallbiznis/farerouter/internal/migration"
	"github.com/smallbiznis/farerouter/internal/observability"
	"github.com/smallbiznis/farerouter/internal/ratelimit"
	"github.com/smallbiznis/farerouter/internal/routing"
	"github.com/smallbiznis/farerouter/internal/server"
	"github.com/smallbiznis/farerouter/internal/sessioncache"
	"github.com/smallbiznis/farerouter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(options(config.Load())...).Run()
}

func options(cfg config.Config) []fx.Option {
	opts := []fx.Option{
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		cache.Module,

		// Functional Domains
		commission.Module,
		decisionlog.Module,
		routing.Module,
		sessioncache.Module,
		booking.Module,
		ratelimit.Module,
		server.Module,
	}

	// The relational store only backs the decision log.
	if cfg.Routing.DecisionLogBackend == config.DecisionLogBackendSQL {
		opts = append(opts, db.Module, migration.Module)
	}
	return opts
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Routing.SnowflakeNodeID)
}
