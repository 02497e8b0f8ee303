package db

import (
	"context"

	obslogger "github.com/smallbiznis/farerouter/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

type Params struct {
	fx.In

	Lc        fx.Lifecycle
	Cfg       Config
	Log       *zap.Logger
	GormLevel obslogger.GormLoggerConfig
}

// Open connects to the configured database and applies pool settings.
func Open(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(p.Log, p.GormLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Cfg.Name))); err != nil {
		return nil, err
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          p.Cfg.Name,
		RefreshInterval: 15,
	})); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Cfg.MaxIdleConn)
	}
	if p.Cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Cfg.MaxOpenConn)
	}
	if p.Cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.Cfg.ConnMaxLifetime)
	}
	if p.Cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.Cfg.ConnMaxIdleTime)
	}

	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return sqlDB.PingContext(ctx)
			},
			OnStop: func(context.Context) error {
				return sqlDB.Close()
			},
		})
	}

	p.Log.Named("db").Info("database configured",
		zap.String("type", p.Cfg.Type),
		zap.String("host", p.Cfg.Host),
		zap.String("name", p.Cfg.Name),
	)
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(FromAppConfig),
	fx.Provide(Open),
)
