package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/clock"
	decisiondomain "github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	obscontext "github.com/smallbiznis/farerouter/internal/observability/context"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingRepo struct {
	mu      sync.Mutex
	entries []decisiondomain.DecisionLog
	block   chan struct{}
	err     error
	panics  bool
}

func (r *recordingRepo) Insert(ctx context.Context, entry *decisiondomain.DecisionLog) error {
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("insert exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return r.err
}

func (r *recordingRepo) List(context.Context, decisiondomain.ListFilter) ([]*decisiondomain.DecisionLog, error) {
	return nil, nil
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func testOffer(id string) routingdomain.EnrichedFlightOffer {
	return routingdomain.EnrichedFlightOffer{
		OfferID:  id,
		Source:   "duffel",
		Currency: "USD",
		Segments: []routingdomain.FlightSegment{
			{Airline: "AA", Origin: "JFK", Destination: "ORD", CabinClass: "economy"},
			{Airline: "AA", Origin: "ORD", Destination: "LAX", CabinClass: "economy"},
		},
		Routing: routingdomain.CommissionResult{
			Channel:            routingdomain.ChannelConsolidator,
			DecisionReason:     routingdomain.ReasonCommissionAboveThreshold,
			CommissionPct:      decimal.NewFromInt(2),
			CommissionAmount:   decimal.NewFromInt(12),
			ConsolidatorProfit: decimal.NewFromInt(12),
			DuffelProfit:       decimal.NewFromInt(6),
			ValidatingCarrier:  "AA",
		},
		EstimatedProfit: decimal.NewFromInt(12),
	}
}

func TestDispatcher_WritesEntries(t *testing.T) {
	repo := &recordingRepo{}
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	d := NewDispatcher(repo, testNode(t), fake, nil, zap.NewNop(), DispatcherConfig{Backend: "sql", Workers: 2})
	d.Start()

	ctx := obscontext.WithRequestID(context.Background(), "req-7")
	d.Record(ctx, testOffer("off-1"), routingdomain.OfferOptions{
		SearchID:  "search-1",
		SessionID: "sess-1",
		Passenger: routingdomain.PassengerContext{Type: "ADT", Count: 2},
	})
	require.NoError(t, d.Stop(context.Background()))

	require.Equal(t, 1, repo.count())
	entry := repo.entries[0]
	assert.NotZero(t, entry.ID)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, "search-1", entry.SearchID)
	assert.Equal(t, "CONSOLIDATOR", entry.Channel)
	assert.Equal(t, fake.Now(), entry.CreatedAt)
	assert.Equal(t, "JFK", entry.Metadata["origin"])
	assert.Equal(t, "LAX", entry.Metadata["destination"])
	assert.Equal(t, "AA,AA", entry.Metadata["carriers"])
	assert.Equal(t, "req-7", entry.Metadata["request_id"])
	assert.Equal(t, 2, entry.Metadata["passenger_count"])
}

func TestDispatcher_RecordNeverBlocks(t *testing.T) {
	repo := &recordingRepo{block: make(chan struct{})}
	d := NewDispatcher(repo, testNode(t), nil, nil, zap.NewNop(), DispatcherConfig{QueueSize: 1, Workers: 1})
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.Record(context.Background(), testOffer("off"), routingdomain.OfferOptions{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled repository")
	}

	close(repo.block)
	require.NoError(t, d.Stop(context.Background()))
	assert.LessOrEqual(t, repo.count(), 2)
	assert.GreaterOrEqual(t, repo.count(), 1)
}

func TestDispatcher_SwallowsFailuresAndPanics(t *testing.T) {
	failing := &recordingRepo{err: errors.New("connection refused")}
	d := NewDispatcher(failing, testNode(t), nil, nil, zap.NewNop(), DispatcherConfig{})
	d.Start()
	d.Record(context.Background(), testOffer("off-1"), routingdomain.OfferOptions{})
	require.NoError(t, d.Stop(context.Background()))

	panicking := &recordingRepo{panics: true}
	p := NewDispatcher(panicking, testNode(t), nil, nil, zap.NewNop(), DispatcherConfig{Workers: 1})
	p.Start()
	p.Record(context.Background(), testOffer("off-1"), routingdomain.OfferOptions{})
	p.Record(context.Background(), testOffer("off-2"), routingdomain.OfferOptions{})
	assert.NoError(t, p.Stop(context.Background()))
}

func TestDispatcher_DisabledAndStopped(t *testing.T) {
	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() {
		nilDispatcher.Record(context.Background(), testOffer("x"), routingdomain.OfferOptions{})
	})

	disabled := NewDispatcher(nil, testNode(t), nil, nil, nil, DispatcherConfig{})
	disabled.Start()
	disabled.Record(context.Background(), testOffer("x"), routingdomain.OfferOptions{})
	assert.NoError(t, disabled.Stop(context.Background()))

	repo := &recordingRepo{}
	d := NewDispatcher(repo, testNode(t), nil, nil, nil, DispatcherConfig{})
	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	d.Record(context.Background(), testOffer("late"), routingdomain.OfferOptions{})
	assert.Equal(t, 0, repo.count())
}

func TestDispatcher_InactiveRecordBuildsNothing(t *testing.T) {
	repo := &recordingRepo{}
	// A nil node panics on Generate, so any build before the state check would fail here.
	idle := NewDispatcher(repo, nil, nil, nil, nil, DispatcherConfig{})
	assert.NotPanics(t, func() {
		idle.Record(context.Background(), testOffer("early"), routingdomain.OfferOptions{})
	})

	idle.Start()
	require.NoError(t, idle.Stop(context.Background()))
	assert.NotPanics(t, func() {
		idle.Record(context.Background(), testOffer("late"), routingdomain.OfferOptions{})
	})
	assert.Equal(t, 0, repo.count())
}
