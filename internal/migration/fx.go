package migration

import (
	"github.com/smallbiznis/farerouter/internal/config"
	"github.com/smallbiznis/farerouter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run prepares the decision log schema for the configured dialect.
func Run(conn *gorm.DB, cfg config.Config, dbCfg db.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if cfg.Routing.DecisionLogBackend != config.DecisionLogBackendSQL {
		log.Info("skipping migrations", zap.String("decision_log_backend", cfg.Routing.DecisionLogBackend))
		return nil
	}

	if dbCfg.Type != db.TypePostgres {
		log.Info("auto migrating decision log schema", zap.String("dialect", dbCfg.Type))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)
