package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pep-tipbot-go/internal/database"
	"pep-tipbot-go/internal/metrics"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupServer(t *testing.T) (*Server, *database.Service, *metrics.Metrics) {
	t.Helper()
	clk := clock.NewTestClock(testEpoch)
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	}, clk)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	return New(db, registry, clk), db, m
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndReady(t *testing.T) {
	s, _, _ := setupServer(t)

	rec, body := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

type brokenStore struct {
	store.LedgerStore
}

func (brokenStore) ListTransfers(context.Context, string, int) ([]models.Transfer, error) {
	return nil, errors.New("database is closed")
}

func TestReady_StoreDown(t *testing.T) {
	_, db, _ := setupServer(t)
	s := New(brokenStore{LedgerStore: db}, nil, nil)

	rec, body := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestAudit(t *testing.T) {
	s, db, _ := setupServer(t)
	ctx := context.Background()
	_, err := db.EnsureAccount(ctx, "1", "alice")
	require.NoError(t, err)
	_, err = db.ApplyCredit(ctx, "1", decimal.NewFromInt(25))
	require.NoError(t, err)

	rec, body := get(t, s, "/audit")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["balanced"])
	assert.Equal(t, "25", body["expected"])
}

func TestAccount(t *testing.T) {
	s, db, _ := setupServer(t)
	ctx := context.Background()
	_, err := db.EnsureAccount(ctx, "1", "alice")
	require.NoError(t, err)
	for _, total := range []int64{5, 10, 15} {
		_, err = db.ApplyCredit(ctx, "1", decimal.NewFromInt(total))
		require.NoError(t, err)
	}

	rec, body := get(t, s, "/accounts/1?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	account := body["account"].(map[string]any)
	assert.Equal(t, "alice", account["username"])
	assert.Equal(t, "15", account["balance"])
	assert.Len(t, body["transfers"], 2)

	rec, _ = get(t, s, "/accounts/2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, s, "/accounts/1?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _, m := setupServer(t)
	m.ReconcilePasses.Inc()
	m.Operations.WithLabelValues("faucet", metrics.OutcomeOK).Inc()

	rec, _ := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tipbot_reconcile_passes_total 1")
	assert.Contains(t, rec.Body.String(), `tipbot_operations_total{operation="faucet",outcome="ok"} 1`)
}
