package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/farerouter/internal/clock"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	obscontext "github.com/smallbiznis/farerouter/internal/observability/context"
	"github.com/smallbiznis/farerouter/internal/observability/metrics"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"github.com/smallbiznis/farerouter/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DispatcherConfig sizes the asynchronous write path.
type DispatcherConfig struct {
	Backend      string
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Dispatcher accepts decisions on the request path and writes them from a
// fixed pool of workers. Record never blocks; when the queue is full the
// entry is dropped.
type Dispatcher struct {
	repo    decisiondomain.Repository
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
	cfg     DispatcherConfig

	queue chan decisiondomain.DecisionLog

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(repo decisiondomain.Repository, genID *snowflake.Node, c clock.Clock, m *metrics.Metrics, log *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if c == nil {
		c = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		repo:    repo,
		log:     log.Named("decisionlog.dispatcher"),
		genID:   genID,
		clock:   c,
		metrics: m,
		cfg:     cfg,
		queue:   make(chan decisiondomain.DecisionLog, cfg.QueueSize),
	}
}

// Start launches the workers. It is a no-op when no repository is configured.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.repo == nil {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.log.Info("decision log dispatcher started",
		zap.String("backend", d.cfg.Backend),
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Stop closes the queue and waits for pending writes or ctx, whichever ends first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.stopped = true
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.log.Warn("decision log dispatcher stopped before draining", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

// Record enqueues the decision for offer.
func (d *Dispatcher) Record(ctx context.Context, offer routingdomain.EnrichedFlightOffer, opts routingdomain.OfferOptions) {
	if d == nil || d.repo == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.started || d.stopped {
		return
	}
	entry := d.build(ctx, offer, opts)

	select {
	case d.queue <- entry:
	default:
		d.metrics.RecordDecisionLogDropped(ctx)
		d.log.Warn("decision log queue full, entry dropped",
			zap.String("offer_id", offer.OfferID),
			zap.String("session_id", opts.SessionID),
		)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for entry := range d.queue {
		d.write(entry)
	}
}

func (d *Dispatcher) write(entry decisiondomain.DecisionLog) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordDecisionLogFailure(ctx, d.cfg.Backend, metrics.StoreErrorPanic)
			d.log.Error("decision log write panicked",
				zap.String("offer_id", entry.OfferID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := d.repo.Insert(ctx, &entry); err != nil {
		d.metrics.RecordDecisionLogFailure(ctx, d.cfg.Backend, metrics.ClassifyStoreError(err))
		d.log.Warn("failed to write decision log",
			zap.String("offer_id", entry.OfferID),
			zap.String("session_id", entry.SessionID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) build(ctx context.Context, offer routingdomain.EnrichedFlightOffer, opts routingdomain.OfferOptions) decisiondomain.DecisionLog {
	payload := map[string]any{}
	if len(offer.Segments) > 0 {
		first := offer.Segments[0]
		last := offer.Segments[len(offer.Segments)-1]
		payload["origin"] = first.Origin
		payload["destination"] = last.Destination
		payload["cabin_class"] = first.CabinClass
		payload["fare_class"] = first.FareClass
		payload["segments"] = len(offer.Segments)
		carriers := make([]string, 0, len(offer.Segments))
		for _, seg := range offer.Segments {
			carriers = append(carriers, seg.Airline)
		}
		payload["carriers"] = strings.Join(carriers, ",")
	}
	if opts.Passenger.Type != "" {
		payload["passenger_type"] = opts.Passenger.Type
	}
	if opts.Passenger.Count > 0 {
		payload["passenger_count"] = opts.Passenger.Count
	}
	if opts.Passenger.IsGroupBooking {
		payload["group_booking"] = true
	}
	if opts.Passenger.DistributionChannel != "" {
		payload["distribution_channel"] = opts.Passenger.DistributionChannel
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	correlation.InjectTrace(ctx, payload)

	createdAt := offer.EnrichedAt
	if createdAt.IsZero() {
		createdAt = d.clock.Now()
	}

	return decisiondomain.DecisionLog{
		ID:                 d.genID.Generate(),
		SearchID:           opts.SearchID,
		SessionID:          opts.SessionID,
		OfferID:            offer.OfferID,
		Source:             offer.Source,
		Channel:            offer.Routing.Channel.String(),
		DecisionReason:     offer.Routing.DecisionReason,
		IsExcluded:         offer.Routing.IsExcluded,
		ExclusionReason:    offer.Routing.ExclusionReason,
		CommissionPct:      offer.Routing.CommissionPct,
		CommissionAmount:   offer.Routing.CommissionAmount,
		ConsolidatorProfit: offer.Routing.ConsolidatorProfit,
		DuffelProfit:       offer.Routing.DuffelProfit,
		EstimatedProfit:    offer.EstimatedProfit,
		Currency:           offer.Currency,
		ValidatingCarrier:  offer.Routing.ValidatingCarrier,
		Metadata:           datatypes.JSONMap(payload),
		CreatedAt:          createdAt.UTC(),
	}
}
