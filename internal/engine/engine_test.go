package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pep-tipbot-go/internal/database"
	"pep-tipbot-go/internal/metrics"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/wallet"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type sentPayment struct {
	address string
	amount  decimal.Decimal
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentPayment
	err   error
	calls atomic.Int32

	// entered and gate, when set, hold Send open until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeSender) Send(_ context.Context, address string, amount decimal.Decimal) (string, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayment{address: address, amount: amount})
	return fmt.Sprintf("tx%04d", n), nil
}

// debitFailingStore records sends but refuses every debit.
type debitFailingStore struct {
	store.LedgerStore
}

func (debitFailingStore) Debit(context.Context, store.DebitParams) (*models.Account, error) {
	return nil, errors.New("disk I/O error")
}

type harness struct {
	db      *database.Service
	clock   *clock.TestClock
	wallet  *fakeSender
	metrics *metrics.Metrics
	engine  *Engine
}

func openStore(t testing.TB, clk clock.Clock) *database.Service {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 8,
		PingTimeout:  time.Second,
		BusyTimeout:  10 * time.Second,
	}, clk)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewTestClock(testEpoch),
		wallet:  &fakeSender{},
		metrics: metrics.New(nil),
	}
	h.db = openStore(t, h.clock)
	h.engine = h.newEngine(t, h.db)
	return h
}

func (h *harness) newEngine(t *testing.T, ledger store.LedgerStore) *Engine {
	t.Helper()
	e, err := New(Config{
		Store:          ledger,
		Wallet:         h.wallet,
		Clock:          h.clock,
		Metrics:        h.metrics,
		Fee:            decimal.NewFromInt(1),
		FaucetAmount:   decimal.NewFromInt(50),
		FaucetInterval: 2 * time.Hour,
		ActiveWindow:   30 * time.Minute,
		Rand:           func(n int) int { return n - 1 },
	})
	require.NoError(t, err)
	return e
}

// user creates an account with a username, funds it through a deposit and
// marks it active.
func (h *harness) user(t *testing.T, id, username, deposit string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.db.EnsureAccount(ctx, id, username)
	require.NoError(t, err)
	if deposit != "" {
		_, err = h.db.ApplyCredit(ctx, id, decimal.RequireFromString(deposit))
		require.NoError(t, err)
	}
	require.NoError(t, h.db.TouchActive(ctx, id))
}

func (h *harness) balance(t *testing.T, id string) string {
	t.Helper()
	account, err := h.db.GetAccount(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account.Balance.String()
}

func (h *harness) requireBalanced(t *testing.T) *models.LedgerAudit {
	t.Helper()
	audit, err := h.db.Audit(context.Background())
	require.NoError(t, err)
	require.True(t, audit.Balanced(), "ledger out of balance: %+v", audit)
	return audit
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNew_Validation(t *testing.T) {
	db := openStore(t, nil)
	valid := Config{
		Store:          db,
		Wallet:         &fakeSender{},
		Fee:            decimal.NewFromInt(1),
		FaucetAmount:   decimal.NewFromInt(50),
		FaucetInterval: time.Hour,
		ActiveWindow:   time.Minute,
	}
	_, err := New(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no store", func(c *Config) { c.Store = nil }},
		{"no wallet", func(c *Config) { c.Wallet = nil }},
		{"negative fee", func(c *Config) { c.Fee = decimal.NewFromInt(-1) }},
		{"zero faucet amount", func(c *Config) { c.FaucetAmount = decimal.Zero }},
		{"zero faucet interval", func(c *Config) { c.FaucetInterval = 0 }},
		{"zero active window", func(c *Config) { c.ActiveWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "50")

	result, err := h.engine.Withdraw(context.Background(), "100", amt("5"), " PAddr ")
	require.NoError(t, err)
	require.Equal(t, "4", result.Sent.String())
	require.Equal(t, "1", result.Fee.String())
	require.Equal(t, "45", result.NewBalance.String())
	require.Equal(t, "tx0001", result.TxId)
	require.NotEmpty(t, result.WithdrawalId)

	require.Equal(t, []sentPayment{{address: "PAddr", amount: amt("4")}}, h.wallet.sent)

	transfers, err := h.db.ListTransfers(context.Background(), "100", 1)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, models.TransferWithdraw, transfers[0].Kind)
	require.Equal(t, "5", transfers[0].Amount.String())
	require.Equal(t, "1", transfers[0].Fee.String())
	require.Equal(t, "tx0001", transfers[0].ExternalRef)
	require.Equal(t, result.WithdrawalId, transfers[0].Reference)

	h.requireBalanced(t)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Operations.WithLabelValues("withdraw", metrics.OutcomeOK)))
}

func TestWithdraw_RejectedBeforeSend(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")

	tests := []struct {
		name    string
		account string
		amount  string
		address string
		want    error
	}{
		{"amount equals fee", "100", "1", "PAddr", store.ErrFeeExceedsAmount},
		{"amount below fee", "100", "0.5", "PAddr", store.ErrFeeExceedsAmount},
		{"insufficient balance", "100", "10.00000001", "PAddr", store.ErrInsufficientFunds},
		{"too many decimals", "100", "2.000000001", "PAddr", store.ErrInvalidAmount},
		{"negative", "100", "-3", "PAddr", store.ErrInvalidAmount},
		{"unknown account", "999", "5", "PAddr", store.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Withdraw(context.Background(), tt.account, amt(tt.amount), tt.address)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.engine.Withdraw(context.Background(), "100", amt("5"), "  ")
	var validation *store.ValidationError
	require.ErrorAs(t, err, &validation)

	require.Zero(t, h.wallet.calls.Load())
	require.Equal(t, "10", h.balance(t, "100"))
}

func TestWithdraw_WalletFailureLeavesBalance(t *testing.T) {
	for _, kind := range []wallet.Kind{wallet.KindTransient, wallet.KindProtocol} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t)
			h.user(t, "100", "alice", "10")
			h.wallet.err = &wallet.Error{Kind: kind, Method: "sendtoaddress", Err: errors.New("boom")}

			_, err := h.engine.Withdraw(context.Background(), "100", amt("5"), "PAddr")
			require.ErrorIs(t, err, h.wallet.err)
			require.Equal(t, int32(1), h.wallet.calls.Load())
			require.Equal(t, "10", h.balance(t, "100"))

			audit := h.requireBalanced(t)
			require.Equal(t, int64(1), audit.TransferCount)
			require.Equal(t, float64(1),
				testutil.ToFloat64(h.metrics.WalletErrors.WithLabelValues("sendtoaddress", kind.String())))
		})
	}
}

func TestWithdraw_DebitFailureAfterSendIsReported(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	e := h.newEngine(t, debitFailingStore{LedgerStore: h.db})

	_, err := e.Withdraw(context.Background(), "100", amt("5"), "PAddr")
	var unbalanced *UnbalancedWithdrawalError
	require.ErrorAs(t, err, &unbalanced)
	require.Equal(t, "tx0001", unbalanced.TxId)
	require.Equal(t, "100", unbalanced.AccountId)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.UnbalancedSends))
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Operations.WithLabelValues("withdraw", metrics.OutcomeError)))
}

func TestWithdraw_ConcurrentNeverOverspends(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Withdraw(context.Background(), "100", amt("6"), "PAddr")
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), succeeded.Load())
	require.Equal(t, int32(1), h.wallet.calls.Load())
	require.Equal(t, "4", h.balance(t, "100"))
	h.requireBalanced(t)
}

func TestWithdraw_TipWaitsForInFlightSend(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	h.user(t, "200", "bob", "")
	h.wallet.entered = make(chan struct{}, 1)
	h.wallet.gate = make(chan struct{})

	withdrawDone := make(chan error, 1)
	go func() {
		_, err := h.engine.Withdraw(context.Background(), "100", amt("10"), "PAddr")
		withdrawDone <- err
	}()
	<-h.wallet.entered

	tipDone := make(chan error, 1)
	go func() {
		_, err := h.engine.Tip(context.Background(), "100", amt("10"), Selection{Mode: ModeDirect, Recipient: "@bob"})
		tipDone <- err
	}()

	require.Never(t, func() bool { return len(tipDone) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(h.wallet.gate)

	require.NoError(t, <-withdrawDone)
	require.ErrorIs(t, <-tipDone, store.ErrInsufficientFunds)
	require.Equal(t, "0", h.balance(t, "100"))
	require.Equal(t, "0", h.balance(t, "200"))
	require.Zero(t, testutil.ToFloat64(h.metrics.UnbalancedSends))
	audit := h.requireBalanced(t)
	require.Equal(t, "10", audit.WithdrawTotal.String())
}

func TestWithdraw_LogsRequestContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	ctx := models.WithRequestContext(context.Background(), &models.RequestContext{
		RequestId: "req-1",
		UserId:    "100",
		Command:   "withdraw",
	})

	_, err := h.engine.Withdraw(ctx, "100", amt("5"), "PAddr")
	require.NoError(t, err)

	entries := logs.FilterMessage("Withdrawal completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "withdraw", fields["command"])
	require.Equal(t, "tx0001", fields["txid"])
}

func TestTip_Direct(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "20")
	h.user(t, "200", "Bob", "")

	result, err := h.engine.Tip(context.Background(), "100", amt("7.5"), Selection{Mode: ModeDirect, Recipient: "@bob"})
	require.NoError(t, err)
	require.Equal(t, []string{"200"}, result.Recipients)
	require.Equal(t, "7.5", result.Total.String())
	require.Equal(t, "12.5", result.NewBalance.String())
	require.Equal(t, "7.5", h.balance(t, "200"))
	h.requireBalanced(t)
}

func TestTip_DirectRejections(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "20")
	h.user(t, "200", "bob", "")

	_, err := h.engine.Tip(context.Background(), "100", amt("1"), Selection{Mode: ModeDirect, Recipient: "@carol"})
	require.ErrorIs(t, err, store.ErrRecipientNotFound)

	var validation *store.ValidationError
	_, err = h.engine.Tip(context.Background(), "100", amt("1"), Selection{Mode: ModeDirect, Recipient: "@Alice"})
	require.ErrorAs(t, err, &validation)

	_, err = h.engine.Tip(context.Background(), "100", amt("21"), Selection{Mode: ModeDirect, Recipient: "bob"})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	_, err = h.engine.Tip(context.Background(), "300", amt("1"), Selection{Mode: ModeDirect, Recipient: "bob"})
	require.ErrorIs(t, err, store.ErrAccountNotFound)

	_, err = h.engine.Tip(context.Background(), "100", amt("0"), Selection{Mode: ModeDirect, Recipient: "bob"})
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	require.Equal(t, "20", h.balance(t, "100"))
	require.Equal(t, "0", h.balance(t, "200"))
	require.Equal(t, float64(5), testutil.ToFloat64(h.metrics.Operations.WithLabelValues("tip_direct", metrics.OutcomeRejected)))
}

func TestTip_ActiveSplit(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	h.user(t, "200", "bob", "")
	h.user(t, "300", "carol", "")
	h.user(t, "400", "dave", "")

	// dave drifts out of the active window.
	h.clock.SetTime(testEpoch.Add(20 * time.Minute))
	require.NoError(t, h.db.TouchActive(context.Background(), "200"))
	require.NoError(t, h.db.TouchActive(context.Background(), "300"))
	require.NoError(t, h.db.TouchActive(context.Background(), "100"))
	h.clock.SetTime(testEpoch.Add(31 * time.Minute))

	result, err := h.engine.Tip(context.Background(), "100", amt("1"), Selection{Mode: ModeActive})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"200", "300"}, result.Recipients)
	require.Equal(t, "0.5", result.Share.String())
	require.Equal(t, "1", result.Total.String())
	require.Equal(t, "9", h.balance(t, "100"))
	require.Equal(t, "0", h.balance(t, "400"))
	h.requireBalanced(t)
}

func TestTip_ActiveSplitKeepsRemainder(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	h.user(t, "200", "bob", "")
	h.user(t, "300", "carol", "")
	h.user(t, "400", "dave", "")

	result, err := h.engine.Tip(context.Background(), "100", amt("1"), Selection{Mode: ModeActive})
	require.NoError(t, err)
	require.Equal(t, "0.33333333", result.Share.String())
	require.Equal(t, "0.99999999", result.Total.String())
	require.Equal(t, "9.00000001", h.balance(t, "100"))
	h.requireBalanced(t)
}

func TestTip_ActiveShareTooSmall(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	h.user(t, "200", "bob", "")
	h.user(t, "300", "carol", "")

	_, err := h.engine.Tip(context.Background(), "100", amt("0.00000001"), Selection{Mode: ModeActive})
	var validation *store.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "10", h.balance(t, "100"))
}

func TestTip_NoActiveUsers(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")

	for _, mode := range []Mode{ModeActive, ModeRandom} {
		_, err := h.engine.Tip(context.Background(), "100", amt("1"), Selection{Mode: mode})
		require.ErrorIs(t, err, ErrNoActiveUsers)
		require.ErrorIs(t, err, store.ErrRecipientNotFound)
	}
}

func TestTip_RandomMarksSenderActive(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "10")
	h.user(t, "200", "bob", "")
	h.user(t, "300", "carol", "")

	h.clock.SetTime(testEpoch.Add(5 * time.Minute))
	result, err := h.engine.Tip(context.Background(), "100", amt("2"), Selection{Mode: ModeRandom})
	require.NoError(t, err)
	require.Len(t, result.Recipients, 1)
	require.NotEqual(t, "100", result.Recipients[0])
	require.Equal(t, "2", h.balance(t, result.Recipients[0]))

	sender, err := h.db.GetAccount(context.Background(), "100")
	require.NoError(t, err)
	require.True(t, sender.LastActiveAt.Equal(testEpoch.Add(5*time.Minute)))
}

func TestClaimFaucet(t *testing.T) {
	h := newHarness(t)
	h.user(t, "100", "alice", "")

	result, err := h.engine.ClaimFaucet(context.Background(), "100")
	require.NoError(t, err)
	require.Equal(t, "50", result.NewBalance.String())

	h.clock.SetTime(testEpoch.Add(90 * time.Minute))
	_, err = h.engine.ClaimFaucet(context.Background(), "100")
	require.ErrorIs(t, err, store.ErrCooldownActive)
	var cooldown *store.CooldownError
	require.ErrorAs(t, err, &cooldown)
	require.Equal(t, 30*time.Minute, cooldown.Remaining)

	h.clock.SetTime(testEpoch.Add(2 * time.Hour))
	result, err = h.engine.ClaimFaucet(context.Background(), "100")
	require.NoError(t, err)
	require.Equal(t, "100", result.NewBalance.String())
	h.requireBalanced(t)
}

func TestEndToEnd_DepositTipWithdrawFaucet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", "alice", "")
	h.user(t, "B", "bob", "")

	_, err := h.db.ApplyCredit(ctx, "A", amt("50"))
	require.NoError(t, err)
	require.Equal(t, "50", h.balance(t, "A"))

	_, err = h.engine.Tip(ctx, "A", amt("10"), Selection{Mode: ModeDirect, Recipient: "@bob"})
	require.NoError(t, err)
	require.Equal(t, "40", h.balance(t, "A"))
	require.Equal(t, "10", h.balance(t, "B"))

	result, err := h.engine.Withdraw(ctx, "A", amt("5"), "PExternal")
	require.NoError(t, err)
	require.Equal(t, "4", h.wallet.sent[0].amount.String())
	require.Equal(t, "35", result.NewBalance.String())

	transfers, err := h.db.ListTransfers(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	require.Equal(t, models.TransferWithdraw, transfers[0].Kind)
	require.Equal(t, "5", transfers[0].Amount.String())
	require.Equal(t, "tx0001", transfers[0].ExternalRef)
	require.Equal(t, models.TransferTip, transfers[1].Kind)

	_, err = h.engine.ClaimFaucet(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "85", h.balance(t, "A"))
	_, err = h.engine.ClaimFaucet(ctx, "A")
	require.ErrorIs(t, err, store.ErrCooldownActive)
	require.Equal(t, "85", h.balance(t, "A"))
	require.Equal(t, "10", h.balance(t, "B"))

	audit := h.requireBalanced(t)
	require.Equal(t, "95", audit.BalanceTotal.String())
}
