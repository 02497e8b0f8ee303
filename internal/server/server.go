package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/farerouter/internal/config"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"github.com/smallbiznis/farerouter/internal/observability"
	obslogger "github.com/smallbiznis/farerouter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/farerouter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/farerouter/internal/observability/tracing"
	"github.com/smallbiznis/farerouter/internal/ratelimit"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

const (
	maxOffersPerRequest = 500
	maxBodyBytes        = 8 << 20
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Logger:          log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(metricsPath(obsCfg), gin.WrapH(promhttp.Handler()))

	return r
}

func metricsPath(cfg observability.Config) string {
	if cfg.MetricsPath == "" {
		return "/metrics"
	}
	return cfg.MetricsPath
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	routingSvc routingdomain.Service
	sessions   routingdomain.SessionCache
	booking    routingdomain.BookingRouter
	decisions  decisiondomain.Service
	limiter    enrichLimiter
	metrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	RoutingSvc routingdomain.Service
	Sessions   routingdomain.SessionCache
	Booking    routingdomain.BookingRouter
	Decisions  decisiondomain.Service  `optional:"true"`
	Limiter    *ratelimit.EnrichLimiter `optional:"true"`
	Metrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.routing"),
		routingSvc: p.RoutingSvc,
		sessions:   p.Sessions,
		booking:    p.Booking,
		decisions:  p.Decisions,
		metrics:    p.Metrics,
	}
	if p.Limiter != nil {
		svc.limiter = p.Limiter
	}

	svc.registerRoutingRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutingRoutes() {
	v1 := s.engine.Group("/v1/routing")

	// -------- Search time --------
	v1.POST("/offers/enrich", s.EnrichRateLimit(), BodyLimit(maxBodyBytes), s.EnrichOffers)

	// -------- Booking time --------
	v1.GET("/sessions/:session_id", s.GetSessionRoutingData)
	v1.GET("/sessions/:session_id/summary", s.GetSessionRoutingSummary)
	v1.GET("/sessions/:session_id/offers/:offer_id", s.GetFlightRoutingDecision)

	// -------- Probes --------
	v1.GET("/recommendation", s.GetRoutingRecommendation)
	v1.GET("/airlines/:code/eligibility", s.GetAirlineEligibility)
	v1.GET("/break-even", s.GetBreakEvenFare)

	// -------- Analytics --------
	v1.GET("/decisions", s.ListDecisions)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
