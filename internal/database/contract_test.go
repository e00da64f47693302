package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/store/storetest"

	"github.com/lightningnetwork/lnd/clock"
)

func TestLedgerContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) store.LedgerStore {
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
		return service
	})
}
