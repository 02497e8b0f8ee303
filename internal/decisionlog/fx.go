package decisionlog

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/farerouter/internal/clock"
	"github.com/smallbiznis/farerouter/internal/config"
	"github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"github.com/smallbiznis/farerouter/internal/decisionlog/repository"
	"github.com/smallbiznis/farerouter/internal/decisionlog/service"
	"github.com/smallbiznis/farerouter/internal/observability/metrics"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type repositoryParams struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB `optional:"true"`
}

// provideRepository returns nil when the decision log is disabled.
func provideRepository(p repositoryParams) (domain.Repository, error) {
	switch p.Cfg.Routing.DecisionLogBackend {
	case config.DecisionLogBackendNone:
		p.Log.Info("decision log disabled")
		return nil, nil
	case config.DecisionLogBackendMongo:
		client, err := repository.NewMongoClient(context.Background(), p.Cfg.Mongo.URI, p.Cfg.Mongo.Username, p.Cfg.Mongo.Password)
		if err != nil {
			return nil, err
		}
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Disconnect(ctx)
			},
		})
		return repository.NewMongoRepository(context.Background(), client.Database(p.Cfg.Mongo.Database))
	default:
		if p.DB == nil {
			return nil, errors.New("decision log backend sql requires a database")
		}
		return repository.NewGormRepository(p.DB), nil
	}
}

type dispatcherParams struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Repo    domain.Repository
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

func provideDispatcher(p dispatcherParams) *service.Dispatcher {
	d := service.NewDispatcher(p.Repo, p.GenID, p.Clock, p.Metrics, p.Log, service.DispatcherConfig{
		Backend:      p.Cfg.Routing.DecisionLogBackend,
		QueueSize:    p.Cfg.Routing.DecisionLogQueue,
		Workers:      p.Cfg.Routing.DecisionLogWorkers,
		WriteTimeout: p.Cfg.Routing.DecisionLogTimeout,
	})
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
	return d
}

var Module = fx.Module("decisionlog.service",
	fx.Provide(provideRepository),
	fx.Provide(provideDispatcher),
	fx.Provide(func(d *service.Dispatcher) routingdomain.DecisionRecorder { return d }),
	fx.Provide(service.NewService),
)
