package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	bookingservice "github.com/smallbiznis/farerouter/internal/booking/service"
	"github.com/smallbiznis/farerouter/internal/cache"
	"github.com/smallbiznis/farerouter/internal/clock"
	commissionservice "github.com/smallbiznis/farerouter/internal/commission/service"
	"github.com/smallbiznis/farerouter/internal/config"
	decisionservice "github.com/smallbiznis/farerouter/internal/decisionlog/service"
	"github.com/smallbiznis/farerouter/internal/observability"
	routingdomain "github.com/smallbiznis/farerouter/internal/routing/domain"
	routingservice "github.com/smallbiznis/farerouter/internal/routing/service"
	"github.com/smallbiznis/farerouter/internal/sessioncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules, err := config.CompileRoutingRules(config.RoutingRulesFile{
		CommissionThreshold: 5,
		DuffelMarkupPct:     1,
		DefaultCurrency:     "USD",
		LCCAirlines:         []string{"NK"},
		CommissionRules: []config.CommissionRuleConfig{
			{Airline: "AA", CommissionPct: 2},
		},
	})
	require.NoError(t, err)
	source := config.StaticRoutingRules(rules)

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Routing: config.RoutingConfig{
		SessionTTL:        30 * time.Minute,
		CacheTimeout:      time.Second,
		EnrichParallelism: 4,
	}}

	engine := routingservice.NewEngine(routingservice.Params{
		Cfg:        cfg,
		Log:        log,
		Calculator: commissionservice.NewCalculator(source),
		Rules:      source,
		Clock:      fake,
	})
	sessions := sessioncache.New(sessioncache.Params{
		Cfg:   cfg,
		Log:   log,
		Store: cache.NewMemoryStore(fake),
		Clock: fake,
	})

	r := NewEngine(observability.Config{}, log, nil)
	NewServer(ServerParams{
		Gin:        r,
		Cfg:        cfg,
		Log:        log,
		RoutingSvc: engine,
		Sessions:   sessions,
		Booking:    bookingservice.NewRouter(bookingservice.Params{Log: log, Cache: sessions}),
		Decisions:  decisionservice.NewService(nil, log),
	})
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", rec.Body.String())
	return payload
}

func offerBody(id, airline, fare string) map[string]any {
	segments := []map[string]any{}
	if airline != "" {
		segments = append(segments, map[string]any{
			"airline":      airline,
			"origin":       "JFK",
			"destination":  "LAX",
			"departure_at": "2026-11-03T08:30:00Z",
			"cabin_class":  "economy",
		})
	}
	return map[string]any{
		"offer_id":   id,
		"source":     "duffel",
		"segments":   segments,
		"base_fare":  fare,
		"total_fare": fare,
		"currency":   "USD",
	}
}

func TestEnrichThenBookingLookup(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/routing/offers/enrich", map[string]any{
		"session_id": "sess-1",
		"search_id":  "srch-1",
		"passenger":  map[string]any{"type": "ADT", "count": 1},
		"offers": []any{
			offerBody("off-1", "AA", "600"),
			offerBody("off-2", "NK", "300"),
			offerBody("off-3", "", "300"),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := data(t, rec)
	assert.Equal(t, "sess-1", payload["session_id"])
	assert.Len(t, payload["offers"], 2)

	errs, ok := payload["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "off-3", first["offer_id"])
	assert.Equal(t, "no_segments", first["code"])

	summary := payload["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["total"])
	assert.EqualValues(t, 1, summary["consolidator_count"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-1/offers/off-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decision := data(t, rec)
	assert.Equal(t, "CONSOLIDATOR", decision["channel"])
	assert.Equal(t, routingdomain.ReasonCommissionAboveThreshold, decision["reason"])
	assert.Equal(t, false, decision["fallback"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-1/offers/off-2", nil)
	decision = data(t, rec)
	assert.Equal(t, "DUFFEL", decision["channel"])
	assert.Equal(t, routingdomain.ReasonLCCAirline, decision["reason"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-1/offers/off-3", nil)
	decision = data(t, rec)
	assert.Equal(t, "DUFFEL", decision["channel"])
	assert.Equal(t, routingdomain.ReasonFlightNotInSession, decision["reason"])
	assert.Equal(t, true, decision["fallback"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := data(t, rec)
	assert.Equal(t, "srch-1", doc["search_id"])
	assert.Len(t, doc["offers"], 2)

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, data(t, rec)["total"])
}

func TestEnrichRepeatedOfferIDKeepsSummaryAndSessionInStep(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/routing/offers/enrich", map[string]any{
		"session_id": "sess-dup",
		"offers": []any{
			offerBody("x", "AA", "600"),
			offerBody("x", "NK", "600"),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := data(t, rec)
	assert.Len(t, payload["offers"], 1)
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "duplicate_offer_id", errs[0].(map[string]any)["code"])
	assert.EqualValues(t, 1, payload["summary"].(map[string]any)["total"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-dup/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, data(t, rec)["total"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/sess-dup/offers/x", nil)
	assert.Equal(t, "CONSOLIDATOR", data(t, rec)["channel"])
}

func TestEnrichGeneratesSessionID(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/routing/offers/enrich", map[string]any{
		"offers": []any{offerBody("off-1", "AA", "600")},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sessionID, _ := data(t, rec)["session_id"].(string)
	require.NotEmpty(t, sessionID)

	rec = doRequest(t, r, http.MethodGet, fmt.Sprintf("/v1/routing/sessions/%s/offers/off-1", sessionID), nil)
	assert.Equal(t, "CONSOLIDATOR", data(t, rec)["channel"])
}

func TestEnrichRejectsMalformedBody(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/v1/routing/offers/enrich", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	payload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
}

func TestBookingLookupUnknownSession(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/routing/sessions/missing/offers/off-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decision := data(t, rec)
	assert.Equal(t, "DUFFEL", decision["channel"])
	assert.Equal(t, routingdomain.ReasonRoutingSessionExpired, decision["reason"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"].(map[string]any)["type"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/sessions/missing/summary", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoutingRecommendation(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/routing/recommendation?airline=AA&origin=JFK&destination=LAX&departure_date=2026-11-03&base_fare=600", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := data(t, rec)
	assert.Equal(t, "CONSOLIDATOR", result["channel"])
	assert.Equal(t, "AA", result["validating_carrier"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/recommendation?airline=AA", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/recommendation?base_fare=100", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decode(t, rec)["error"].(map[string]any)
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "missing_airline", errs[0].(map[string]any)["code"])
}

func TestGetAirlineEligibility(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/routing/airlines/aa/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AA", data(t, rec)["airline"])
	assert.Equal(t, true, data(t, rec)["eligible"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/airlines/NK/eligibility", nil)
	assert.Equal(t, false, data(t, rec)["eligible"])
}

func TestGetBreakEvenFare(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/routing/break-even?commission_pct=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := data(t, rec)
	assert.Equal(t, "250", payload["fare"])
	assert.Equal(t, false, payload["infinite"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/break-even?commission_pct=0", nil)
	payload = data(t, rec)
	assert.Nil(t, payload["fare"])
	assert.Equal(t, true, payload["infinite"])

	rec = doRequest(t, r, http.MethodGet, "/v1/routing/break-even?commission_pct=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDecisionsWhenLogDisabled(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/v1/routing/decisions", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decode(t, rec)["error"].(map[string]any)["type"])
}

func TestHealthAndFallback(t *testing.T) {
	r := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = doRequest(t, r, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
		code   string
	}{
		{
			name:   "wrapped calculator error",
			err:    fmt.Errorf("offer off-1: %w: segment 0: %w", routingdomain.ErrInvalidCommissionInput, routingdomain.ErrMissingAirline),
			status: http.StatusBadRequest,
			typ:    "validation_error",
			code:   "missing_airline",
		},
		{
			name:   "missing session id",
			err:    routingdomain.ErrMissingSessionID,
			status: http.StatusBadRequest,
			typ:    "validation_error",
			code:   "missing_session_id",
		},
		{
			name:   "session not found",
			err:    routingdomain.ErrSessionNotFound,
			status: http.StatusNotFound,
			typ:    "not_found",
			code:   "not_found",
		},
		{
			name:   "rate limited",
			err:    ErrRateLimited,
			status: http.StatusTooManyRequests,
			typ:    "rate_limited",
			code:   "rate_limited",
		},
		{
			name:   "unexpected",
			err:    fmt.Errorf("boom"),
			status: http.StatusInternalServerError,
			typ:    "internal_error",
			code:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.typ, payload.Type)

			typ, code := classifyErrorForLog(tt.err)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.code, code)
		})
	}
}
