package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes routing instruments. A nil *Metrics records nothing.
type Metrics struct {
	routingDecisions    metric.Int64Counter
	bookingLookups      metric.Int64Counter
	decisionLogDropped  metric.Int64Counter
	decisionLogFailures metric.Int64Counter
	sessionCacheWrites  metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the routing metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "farerouter"
	}
	meter := provider.Meter(name)

	routingDecisions, err := meter.Int64Counter("farerouter_routing_decisions_total",
		metric.WithDescription("Routing decisions by channel and reason."))
	if err != nil {
		return nil, err
	}
	bookingLookups, err := meter.Int64Counter("farerouter_booking_lookups_total",
		metric.WithDescription("Booking-time routing lookups by channel and reason."))
	if err != nil {
		return nil, err
	}
	decisionLogDropped, err := meter.Int64Counter("farerouter_decision_log_dropped_total",
		metric.WithDescription("Decision log entries dropped because the queue was full."))
	if err != nil {
		return nil, err
	}
	decisionLogFailures, err := meter.Int64Counter("farerouter_decision_log_failures_total",
		metric.WithDescription("Decision log writes that failed."))
	if err != nil {
		return nil, err
	}
	sessionCacheWrites, err := meter.Int64Counter("farerouter_session_cache_writes_total",
		metric.WithDescription("Session routing cache writes by outcome."))
	if err != nil {
		return nil, err
	}

	rateLimitDenied, err := meter.Int64Counter("farerouter_rate_limit_denied_total",
		metric.WithDescription("Requests rejected by the rate limiter."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		routingDecisions:    routingDecisions,
		bookingLookups:      bookingLookups,
		decisionLogDropped:  decisionLogDropped,
		decisionLogFailures: decisionLogFailures,
		sessionCacheWrites:  sessionCacheWrites,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordRoutingDecision increments decision counts.
func (m *Metrics) RecordRoutingDecision(ctx context.Context, channel, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.routingDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBookingLookup increments booking lookup counts.
func (m *Metrics) RecordBookingLookup(ctx context.Context, channel, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.bookingLookups.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDecisionLogDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.decisionLogDropped.Add(ctx, 1)
}

func (m *Metrics) RecordDecisionLogFailure(ctx context.Context, backend, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("backend", strings.TrimSpace(backend)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.decisionLogFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionCacheWrite increments session cache write counts.
func (m *Metrics) RecordSessionCacheWrite(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.sessionCacheWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"channel":     {},
	"reason":      {},
	"backend":     {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
