// routectl is the operator tool for the fare router.
//
// Usage:
//
//	routectl recommend --airline AA --origin JFK --destination LAX --base-fare 600
//	routectl eligible AA NK BA
//	routectl break-even --pct 2.5
//	routectl session --session-id <id> [--offer-id <id>]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	bookingservice "github.com/smallbiznis/farerouter/internal/booking/service"
	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/clock"
	commissionservice "github.com/smallbiznis/farerouter/internal/commission/service"
	"github.com/smallbiznis/farerouter/internal/config"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	routingservice "github.com/smallbiznis/farerouter/internal/routing/service"
	"github.com/smallbiznis/farerouter/internal/sessioncache"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "routectl",
		Usage:   "Inspect fare routing rules and cached routing sessions",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rules",
				Usage:   "Path to the routing rules file",
				EnvVars: []string{"ROUTING_RULES_PATH"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log to stderr",
			},
		},

		Commands: []*cli.Command{
			recommendCommand(),
			eligibleCommand(),
			breakEvenCommand(),
			sessionCommand(),
		},
	}
}

func newLogger(c *cli.Context) *zap.Logger {
	if !c.Bool("debug") {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newRoutingService(c *cli.Context) (routingdomain.Service, error) {
	cfg := config.Config{Routing: config.RoutingConfig{RulesPath: strings.TrimSpace(c.String("rules"))}}
	log := newLogger(c)

	rules, err := config.NewRoutingRulesHolder(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("load routing rules: %w", err)
	}
	return routingservice.NewEngine(routingservice.Params{
		Cfg:        cfg,
		Log:        log,
		Calculator: commissionservice.NewCalculator(rules),
		Rules:      rules,
		Clock:      clock.System(),
	}), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// RECOMMEND COMMAND
// =============================================================================

func recommendCommand() *cli.Command {
	return &cli.Command{
		Name:  "recommend",
		Usage: "Show the channel a single-segment fare would be routed to",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "airline", Aliases: []string{"a"}, Usage: "Marketing carrier IATA code", Required: true},
			&cli.StringFlag{Name: "origin", Usage: "Origin airport", Value: "XXX"},
			&cli.StringFlag{Name: "destination", Usage: "Destination airport", Value: "YYY"},
			&cli.StringFlag{Name: "cabin", Usage: "Cabin class", Value: "economy"},
			&cli.StringFlag{Name: "fare-class", Usage: "Booking class letter"},
			&cli.StringFlag{Name: "base-fare", Aliases: []string{"f"}, Usage: "Base fare amount", Required: true},
			&cli.StringFlag{Name: "currency", Usage: "ISO currency code"},
		},
		Action: runRecommend,
	}
}

func runRecommend(c *cli.Context) error {
	baseFare, err := decimal.NewFromString(strings.TrimSpace(c.String("base-fare")))
	if err != nil {
		return fmt.Errorf("invalid base fare %q: %w", c.String("base-fare"), err)
	}

	svc, err := newRoutingService(c)
	if err != nil {
		return err
	}

	result, err := svc.GetRoutingRecommendation(c.Context, routingdomain.RecommendationRequest{
		Airline:     c.String("airline"),
		Origin:      c.String("origin"),
		Destination: c.String("destination"),
		CabinClass:  c.String("cabin"),
		FareClass:   c.String("fare-class"),
		BaseFare:    baseFare,
		Currency:    c.String("currency"),
	})
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, result)
}

// =============================================================================
// ELIGIBLE COMMAND
// =============================================================================

func eligibleCommand() *cli.Command {
	return &cli.Command{
		Name:      "eligible",
		Usage:     "Report whether airlines can be ticketed through the consolidator",
		ArgsUsage: "AIRLINE [AIRLINE...]",
		Action:    runEligible,
	}
}

func runEligible(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one airline code is required", 2)
	}

	svc, err := newRoutingService(c)
	if err != nil {
		return err
	}

	out := make(map[string]bool, c.NArg())
	for _, airline := range c.Args().Slice() {
		code := strings.ToUpper(strings.TrimSpace(airline))
		out[code] = svc.IsConsolidatorEligible(c.Context, code)
	}
	return writeJSON(c.App.Writer, out)
}

// =============================================================================
// BREAK-EVEN COMMAND
// =============================================================================

func breakEvenCommand() *cli.Command {
	return &cli.Command{
		Name:  "break-even",
		Usage: "Compute the base fare at which a commission reaches the threshold",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pct", Usage: "Commission percentage", Required: true},
		},
		Action: runBreakEven,
	}
}

func runBreakEven(c *cli.Context) error {
	pct, err := decimal.NewFromString(strings.TrimSpace(c.String("pct")))
	if err != nil {
		return fmt.Errorf("invalid commission pct %q: %w", c.String("pct"), err)
	}

	svc, err := newRoutingService(c)
	if err != nil {
		return err
	}

	be := svc.CalculateBreakEvenFare(pct)
	if be.Infinite {
		fmt.Fprintln(c.App.Writer, "infinite")
		return nil
	}
	fmt.Fprintln(c.App.Writer, be.Fare.StringFixed(2))
	return nil
}

// =============================================================================
// SESSION COMMAND
// =============================================================================

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Read a cached routing session from redis",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session-id", Aliases: []string{"s"}, Usage: "Search session id", Required: true},
			&cli.StringFlag{Name: "offer-id", Aliases: []string{"o"}, Usage: "Resolve the booking decision for one offer"},
			&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", EnvVars: []string{"REDIS_ADDR"}},
			&cli.StringFlag{Name: "redis-password", EnvVars: []string{"REDIS_PASSWORD"}},
			&cli.IntFlag{Name: "redis-db", EnvVars: []string{"REDIS_DB"}},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Second, Usage: "Lookup timeout"},
		},
		Action: runSession,
	}
}

func runSession(c *cli.Context) error {
	cfg := config.Config{
		Redis: config.RedisConfig{
			Addr:     c.String("redis-addr"),
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		},
		Routing: config.RoutingConfig{CacheTimeout: c.Duration("timeout")},
	}
	log := newLogger(c)

	client, err := cache.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	store := cache.NewRedisStore(client)
	defer store.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	sessions := sessioncache.New(sessioncache.Params{
		Cfg:   cfg,
		Log:   log,
		Store: store,
		Clock: clock.System(),
	})
	router := bookingservice.NewRouter(bookingservice.Params{Log: log, Cache: sessions})

	if offerID := strings.TrimSpace(c.String("offer-id")); offerID != "" {
		return writeJSON(c.App.Writer, router.GetFlightRoutingDecision(ctx, c.String("session-id"), offerID))
	}

	doc, err := router.GetSessionRoutingData(ctx, c.String("session-id"))
	if err != nil {
		return err
	}
	if doc == nil {
		return cli.Exit("routing session not found or expired", 1)
	}
	return writeJSON(c.App.Writer, doc)
}
