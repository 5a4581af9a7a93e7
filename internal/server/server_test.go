package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/database"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/swarmtest"
)

type fixedParams struct{}

func (fixedParams) Current(context.Context) *learning.AdaptiveParams {
	return learning.DefaultParams()
}

type serverFixture struct {
	srv    *Server
	engine *decision.Engine
	deps   Deps
	perps  *swarmtest.MockPerps
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	swarmDB := swarmtest.NewTestDB(t, "swarm")
	ledgerDB := swarmtest.NewTestDB(t, "ledger")
	conn := swarmDB.Conn()

	messages := bus.NewMessageRepository(conn, log)
	heartbeats := bus.NewHeartbeatRepository(conn, log)
	registrations := bus.NewRegistrationRepository(conn, log)
	decisionLog := ledger.NewDecisionLogRepository(ledgerDB.Conn(), log)
	closed := ledger.NewClosedPositionRepository(ledgerDB.Conn(), log)

	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{FreeMarginUsd: 1000}}
	cfg := &config.Config{
		Port:                    0,
		AutoTierUsd:             50,
		NotifyTierUsd:           200,
		ApprovalExpiry:          15 * time.Minute,
		MaxDecisionsPerCycle:    3,
		HedgeEnabled:            true,
		HedgeTargetRatio:        0.50,
		HedgeMinExposureUsd:     50,
		HedgeRebalanceThreshold: 0.15,
		HlStopLossPct:           25,
		HlLiquidationWarningPct: 15,
		HedgeCooldown:           4 * time.Hour,
	}
	engine := decision.NewEngine(decision.Deps{
		Config:      cfg,
		Registry:    &collab.Registry{Perps: perps},
		Messages:    messages,
		DecisionLog: decisionLog,
		Closed:      closed,
		Adaptive:    fixedParams{},
		Log:         log,
	})

	f := &serverFixture{engine: engine, perps: perps}
	f.deps = Deps{
		Log:           log,
		Config:        cfg,
		Engine:        engine,
		Messages:      messages,
		Heartbeats:    heartbeats,
		Registrations: registrations,
		DecisionLog:   decisionLog,
		Closed:        closed,
		Events:        events.NewBus(log),
		Databases:     map[string]*database.DB{"swarm": swarmDB, "ledger": ledgerDB},
	}
	f.srv = New(f.deps)
	return f
}

func (f *serverFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec, decodeBody(t, rec)
}

func (f *serverFixture) post(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	return rec, decodeBody(t, rec)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth_ReportsDatabases(t *testing.T) {
	f := newFixture(t)

	rec, body := f.get(t, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	dbs := body["databases"].(map[string]interface{})
	assert.Equal(t, "ok", dbs["swarm"])
	assert.Equal(t, "ok", dbs["ledger"])
}

func TestSystemStatus_CountsAliveAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deps.Heartbeats.Beat(ctx, "nova-scout", bus.StatusAlive, "scanning"))
	require.NoError(t, f.deps.Heartbeats.Beat(ctx, "nova-guardian", bus.StatusAlive, ""))
	require.NoError(t, f.deps.Heartbeats.MarkStatus(ctx, "nova-guardian", bus.StatusDead))

	rec, body := f.get(t, "/api/system/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["agentsAlive"])
	assert.Len(t, body["agents"], 2)
	assert.Equal(t, "live", body["mode"])
}

func TestAgents_JoinsRegistrationAndHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deps.Registrations.Upsert(ctx, &bus.AgentRegistration{
		Name: "nova-scout", Type: "scout", Enabled: true,
	}))
	require.NoError(t, f.deps.Heartbeats.Beat(ctx, "nova-scout", bus.StatusAlive, "scanning"))

	rec, body := f.get(t, "/api/agents")

	assert.Equal(t, http.StatusOK, rec.Code)
	agents := body["agents"].([]interface{})
	require.Len(t, agents, 1)
	entry := agents[0].(map[string]interface{})
	assert.Equal(t, "nova-scout", entry["name"])
	assert.Equal(t, "alive", entry["status"])
	assert.Equal(t, "scanning", entry["task"])
}

func TestBusStats_ReflectsPendingMessages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Messages.Send(context.Background(), &bus.Message{
		From: "nova-scout", To: "nova-supervisor",
		Type: bus.TypeReport, Priority: bus.PriorityMedium,
	}))

	rec, body := f.get(t, "/api/bus/stats")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["pending"])
}

func TestRecentDecisions_ReturnsLedgerRows(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.DecisionLog.Append(context.Background(), &ledger.DecisionRecord{
		TraceID: "t1", DecisionType: "open_hedge", Tier: "AUTO",
		Urgency: "medium", Status: ledger.StatusExecuted, ImpactUsd: 42,
	}))

	rec, body := f.get(t, "/api/decisions/recent?limit=10")

	assert.Equal(t, http.StatusOK, rec.Code)
	decisions := body["decisions"].([]interface{})
	require.Len(t, decisions, 1)
	assert.Equal(t, "t1", decisions[0].(map[string]interface{})["traceId"])
}

func TestPnlSummary_AggregatesWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Closed.Record(context.Background(),
		swarmtest.ClosedTrade("hedge", 25, time.Now().Add(-time.Hour))))
	require.NoError(t, f.deps.Closed.Record(context.Background(),
		swarmtest.ClosedTrade("hedge", -10, time.Now().Add(-2*time.Hour))))

	rec, body := f.get(t, "/api/pnl/summary?days=7")

	assert.Equal(t, http.StatusOK, rec.Code)
	summary := body["summary"].(map[string]interface{})
	assert.EqualValues(t, 2, summary["trades"])
	assert.InDelta(t, 15, summary["totalPnlUsd"].(float64), 1e-9)
	assert.InDelta(t, 0.5, body["winRate"].(float64), 1e-9)
}

func TestApprovalLifecycle_OverHTTP(t *testing.T) {
	f := newFixture(t)
	// Queue one approval-tier decision through the real queue.
	pending := f.engine.Approvals().Queue("trace-1", decision.Decision{
		Type:               decision.TypeOpenHedge,
		EstimatedImpactUsd: 500,
	}, "Short $500 SOL", func(ctx context.Context) (*collab.OrderResult, error) {
		return f.perps.HedgeTreasury(ctx, collab.HedgeRequest{Coin: "SOL", NotionalUsd: 500, Leverage: 2})
	})

	rec, body := f.get(t, "/api/approvals")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["approvals"], 1)

	rec, body = f.post(t, "/api/approvals/"+pending.ID+"/approve")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, f.perps.HedgeCalls)

	// Approving the same id again is a 404; the queue entry is gone.
	rec, _ = f.post(t, "/api/approvals/"+pending.ID+"/approve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReject_UnknownIDIs404(t *testing.T) {
	f := newFixture(t)

	rec, body := f.post(t, "/api/approvals/nope/reject")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "not found")
}

func TestRunCycle_ReturnsOutcomeSummary(t *testing.T) {
	f := newFixture(t)

	rec, body := f.post(t, "/api/engine/run")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["traceId"])
	assert.EqualValues(t, 0, body["decisions"], "empty treasury produces no decisions")
}

func TestMetricsEndpoint_Serves(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
