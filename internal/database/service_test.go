package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pep-tipbot-go/internal/models"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestService(t *testing.T) (*Service, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(testEpoch)
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	}, clk)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(service.Close)
	return service, clk
}

func mustAccount(t *testing.T, s *Service, id string) *models.Account {
	t.Helper()
	account, err := s.EnsureAccount(context.Background(), id, "")
	if err != nil {
		t.Fatalf("EnsureAccount(%s) failed: %v", id, err)
	}
	return account
}

func mustFund(t *testing.T, s *Service, id string, amount string) {
	t.Helper()
	ctx := context.Background()
	account, err := s.GetAccount(ctx, id)
	if err != nil || account == nil {
		t.Fatalf("GetAccount(%s) failed: %v", id, err)
	}
	cumulative := account.CreditedTotal.Add(decimal.RequireFromString(amount))
	if _, err := s.ApplyCredit(ctx, id, cumulative); err != nil {
		t.Fatalf("ApplyCredit(%s) failed: %v", id, err)
	}
}

func TestNewService_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.DatabaseConfig
	}{
		{"empty path", models.DatabaseConfig{MaxOpenConns: 1, PingTimeout: time.Second}},
		{"zero open conns", models.DatabaseConfig{Path: "x.db", PingTimeout: time.Second}},
		{"negative idle conns", models.DatabaseConfig{Path: "x.db", MaxOpenConns: 1, MaxIdleConns: -1, PingTimeout: time.Second}},
		{"zero ping timeout", models.DatabaseConfig{Path: "x.db", MaxOpenConns: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(context.Background(), tt.cfg, nil); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestNewService_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := models.DatabaseConfig{Path: path, MaxOpenConns: 2, PingTimeout: time.Second}

	first, err := NewService(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	if _, err := first.EnsureAccount(context.Background(), "u1", "alice"); err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	first.Close()

	second, err := NewService(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer second.Close()

	account, err := second.GetAccount(context.Background(), "u1")
	if err != nil || account == nil {
		t.Fatalf("Expected account to survive reopen, got %v, %v", account, err)
	}
}
