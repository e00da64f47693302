// Package storetest holds behaviour tests that every LedgerStore backend
// must pass. Backends call Run from their own test files.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
)

// Epoch is the start time of the test clock handed to each factory call.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Factory opens an empty store driven by clk. The store is closed by the
// factory's own cleanup.
type Factory func(t *testing.T, clk clock.Clock) store.LedgerStore

func Run(t *testing.T, open Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.LedgerStore, clk *clock.TestClock)
	}{
		{"EnsureAccountIsIdempotent", testEnsureAccount},
		{"DepositAddressFirstWriteWins", testDepositAddress},
		{"ApplyCreditWatermark", testApplyCreditWatermark},
		{"ConcurrentDebitsNeverOverdraw", testConcurrentDebits},
		{"TransferIsAllOrNothing", testTransferAllOrNothing},
		{"OpposingTransfersDoNotDeadlock", testOpposingTransfers},
		{"FaucetCooldownBoundary", testFaucetCooldown},
		{"ActiveSinceNewestFirst", testActiveSince},
		{"AuditConservation", testAuditConservation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clk := clock.NewTestClock(Epoch)
			tc.fn(t, open(t, clk), clk)
		})
	}
}

func coins(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(t *testing.T, s store.LedgerStore, id, deposit string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsureAccount(ctx, id, ""); err != nil {
		t.Fatalf("EnsureAccount(%s) failed: %v", id, err)
	}
	if deposit != "" {
		if _, err := s.ApplyCredit(ctx, id, coins(deposit)); err != nil {
			t.Fatalf("ApplyCredit(%s) failed: %v", id, err)
		}
	}
}

func balance(t *testing.T, s store.LedgerStore, id string) string {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s) failed: %v", id, err)
	}
	if acc == nil {
		t.Fatalf("Account %s missing", id)
	}
	return acc.Balance.String()
}

func requireBalanced(t *testing.T, s store.LedgerStore) *models.LedgerAudit {
	t.Helper()
	audit, err := s.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if !audit.Balanced() {
		t.Fatalf("Ledger out of balance: %+v", audit)
	}
	return audit
}

func testEnsureAccount(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	first, err := s.EnsureAccount(ctx, "1001", "Alice")
	if err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	if !first.Balance.IsZero() || !first.CreditedTotal.IsZero() {
		t.Errorf("Expected an empty account, got %+v", first)
	}
	if _, err := s.ApplyCredit(ctx, "1001", coins("5")); err != nil {
		t.Fatalf("ApplyCredit failed: %v", err)
	}

	again, err := s.EnsureAccount(ctx, "1001", "")
	if err != nil {
		t.Fatalf("Second EnsureAccount failed: %v", err)
	}
	if again.Balance.String() != "5" {
		t.Errorf("Expected EnsureAccount to keep balance 5, got %s", again.Balance)
	}

	found, err := s.FindAccountByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindAccountByUsername failed: %v", err)
	}
	if found == nil || found.Id != "1001" {
		t.Errorf("Expected case-insensitive match for alice, got %+v", found)
	}
}

func testDepositAddress(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "")

	if err := s.SetDepositAddress(ctx, "1001", "Paddr1"); err != nil {
		t.Fatalf("SetDepositAddress failed: %v", err)
	}
	if err := s.SetDepositAddress(ctx, "1001", "Paddr1"); err != nil {
		t.Errorf("Same address again should be a no-op, got %v", err)
	}
	if err := s.SetDepositAddress(ctx, "1001", "Paddr2"); !errors.Is(err, store.ErrAlreadyAssigned) {
		t.Errorf("Expected ErrAlreadyAssigned, got %v", err)
	}

	accounts, err := s.ListDepositAccounts(ctx)
	if err != nil {
		t.Fatalf("ListDepositAccounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].DepositAddress != "Paddr1" {
		t.Errorf("Expected one account at Paddr1, got %+v", accounts)
	}
}

func testApplyCreditWatermark(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "")

	steps := []struct {
		cumulative string
		applied    bool
		amount     string
		balance    string
	}{
		{"50", true, "50", "50"},
		{"50", false, "0", "50"},
		{"62.5", true, "12.5", "62.5"},
		{"40", false, "0", "62.5"},
	}
	for _, step := range steps {
		result, err := s.ApplyCredit(ctx, "1001", coins(step.cumulative))
		if err != nil {
			t.Fatalf("ApplyCredit(%s) failed: %v", step.cumulative, err)
		}
		if result.Applied != step.applied || result.Balance.String() != step.balance {
			t.Errorf("ApplyCredit(%s): expected applied=%v balance %s, got %+v",
				step.cumulative, step.applied, step.balance, result)
		}
		if step.applied && result.Amount.String() != step.amount {
			t.Errorf("ApplyCredit(%s): expected diff %s, got %s", step.cumulative, step.amount, result.Amount)
		}
	}

	audit := requireBalanced(t, s)
	if audit.DepositTotal.String() != "62.5" {
		t.Errorf("Expected deposit total 62.5, got %s", audit.DepositTotal)
	}
}

func testConcurrentDebits(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "10")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Debit(ctx, store.DebitParams{
				AccountId: "1001",
				Amount:    coins("1"),
				Transfer:  models.Transfer{Kind: models.TransferWithdraw},
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Errorf("Unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 10 {
		t.Errorf("Expected 10 accepted debits, got %d", accepted)
	}
	if got := balance(t, s, "1001"); got != "0" {
		t.Errorf("Expected balance 0, got %s", got)
	}
	requireBalanced(t, s)
}

func testTransferAllOrNothing(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "5")
	account(t, s, "1002", "")
	account(t, s, "1003", "")

	_, err := s.Transfer(ctx, store.TransferParams{
		From: "1001",
		Legs: []store.TransferLeg{
			{To: "1002", Amount: coins("1")},
			{To: "missing", Amount: coins("1")},
		},
	})
	if !errors.Is(err, store.ErrRecipientNotFound) {
		t.Fatalf("Expected ErrRecipientNotFound, got %v", err)
	}

	_, err = s.Transfer(ctx, store.TransferParams{
		From: "1001",
		Legs: []store.TransferLeg{
			{To: "1002", Amount: coins("3")},
			{To: "1003", Amount: coins("3")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	for id, want := range map[string]string{"1001": "5", "1002": "0", "1003": "0"} {
		if got := balance(t, s, id); got != want {
			t.Errorf("Expected %s to keep %s, got %s", id, want, got)
		}
	}
	audit := requireBalanced(t, s)
	if !audit.TipTotal.IsZero() {
		t.Errorf("Expected no tip records, got total %s", audit.TipTotal)
	}
}

func testOpposingTransfers(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "100")
	account(t, s, "1002", "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		from, to := "1001", "1002"
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transfer(ctx, store.TransferParams{
				From: from,
				Legs: []store.TransferLeg{{To: to, Amount: coins("1")}},
			})
			if err != nil {
				t.Errorf("Transfer %s->%s failed: %v", from, to, err)
			}
		}()
	}
	wg.Wait()

	if balance(t, s, "1001") != "100" || balance(t, s, "1002") != "100" {
		t.Errorf("Expected 100 / 100, got %s / %s", balance(t, s, "1001"), balance(t, s, "1002"))
	}
	audit := requireBalanced(t, s)
	if audit.TipTotal.String() != "20" {
		t.Errorf("Expected tip total 20, got %s", audit.TipTotal)
	}
}

func testFaucetCooldown(t *testing.T, s store.LedgerStore, clk *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "")
	params := store.FaucetParams{AccountId: "1001", Amount: coins("50"), Interval: 2 * time.Hour}

	if _, err := s.ClaimFaucet(ctx, params); err != nil {
		t.Fatalf("First claim failed: %v", err)
	}

	clk.SetTime(Epoch.Add(90 * time.Minute))
	_, err := s.ClaimFaucet(ctx, params)
	var cooldown *store.CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("Expected CooldownError, got %v", err)
	}
	if cooldown.Remaining != 30*time.Minute {
		t.Errorf("Expected 30m remaining, got %v", cooldown.Remaining)
	}

	clk.SetTime(Epoch.Add(2 * time.Hour))
	acc, err := s.ClaimFaucet(ctx, params)
	if err != nil {
		t.Fatalf("Claim at the boundary failed: %v", err)
	}
	if acc.Balance.String() != "100" {
		t.Errorf("Expected balance 100, got %s", acc.Balance)
	}
	audit := requireBalanced(t, s)
	if audit.FaucetTotal.String() != "100" {
		t.Errorf("Expected faucet total 100, got %s", audit.FaucetTotal)
	}
}

func testActiveSince(t *testing.T, s store.LedgerStore, clk *clock.TestClock) {
	ctx := context.Background()
	for _, id := range []string{"old", "edge", "new", "never"} {
		account(t, s, id, "")
	}

	if err := s.TouchActive(ctx, "old"); err != nil {
		t.Fatalf("TouchActive failed: %v", err)
	}
	clk.SetTime(Epoch.Add(10 * time.Minute))
	if err := s.TouchActive(ctx, "edge"); err != nil {
		t.Fatalf("TouchActive failed: %v", err)
	}
	clk.SetTime(Epoch.Add(20 * time.Minute))
	if err := s.TouchActive(ctx, "new"); err != nil {
		t.Fatalf("TouchActive failed: %v", err)
	}

	active, err := s.QueryActiveSince(ctx, Epoch.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("QueryActiveSince failed: %v", err)
	}
	if len(active) != 2 || active[0].Id != "new" || active[1].Id != "edge" {
		t.Errorf("Expected [new edge], got %+v", active)
	}
}

func testAuditConservation(t *testing.T, s store.LedgerStore, _ *clock.TestClock) {
	ctx := context.Background()
	account(t, s, "1001", "50")
	account(t, s, "1002", "")

	if _, err := s.Transfer(ctx, store.TransferParams{
		From: "1001",
		Legs: []store.TransferLeg{{To: "1002", Amount: coins("15")}},
	}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if _, err := s.Debit(ctx, store.DebitParams{
		AccountId: "1002",
		Amount:    coins("5"),
		Transfer: models.Transfer{
			Kind:        models.TransferWithdraw,
			Fee:         coins("1"),
			ExternalRef: "txid",
		},
	}); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	audit := requireBalanced(t, s)
	if audit.BalanceTotal.String() != "45" || audit.WithdrawTotal.String() != "5" || audit.FeeTotal.String() != "1" {
		t.Errorf("Unexpected audit totals %+v", audit)
	}

	transfers, err := s.ListTransfers(ctx, "1002", 10)
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(transfers) != 2 || transfers[0].Kind != models.TransferWithdraw || transfers[0].ExternalRef != "txid" {
		t.Errorf("Expected withdraw then tip (newest first), got %+v", transfers)
	}
}
