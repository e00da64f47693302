/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pep-tipbot-go/internal/metrics"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/wallet"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletReader is the part of the wallet gateway the reconciler needs.
type WalletReader interface {
	ConfirmedReceived(ctx context.Context, address string, minConf int) (decimal.Decimal, error)
}

// Notifier delivers a best-effort message to a user.
type Notifier interface {
	Notify(ctx context.Context, accountId, text string) error
}

// Config contains configuration for Reconciler
type Config struct {
	Store            store.LedgerStore
	Wallet           WalletReader
	Notifier         Notifier
	Metrics          *metrics.Metrics
	CoinSymbol       string
	MinConfirmations int
	Interval         time.Duration
	StartDelay       time.Duration
	QueryTimeout     time.Duration

	// Clock and Ticker default to the wall clock and a ticker firing every
	// Interval.
	Clock  clock.Clock
	Ticker ticker.Ticker
}

// PassStats summarises one reconciliation pass.
type PassStats struct {
	Accounts    int
	Credited    int
	Failed      int
	Regressions int
	Amount      decimal.Decimal
	Interrupted bool
}

// Reconciler turns cumulative confirmed receipts reported by the wallet into
// idempotent balance credits.
type Reconciler struct {
	store      store.LedgerStore
	wallet     WalletReader
	notifier   Notifier
	metrics    *metrics.Metrics
	coin       string
	minConf    int
	startDelay time.Duration
	timeout    time.Duration
	clock      clock.Clock
	ticker     ticker.Ticker

	// Control channels
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil || cfg.Wallet == nil {
		return nil, fmt.Errorf("reconciler requires a store and a wallet")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive, got %v", cfg.Interval)
	}
	if cfg.QueryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be positive, got %v", cfg.QueryTimeout)
	}
	if cfg.MinConfirmations < 0 {
		return nil, fmt.Errorf("min confirmations cannot be negative, got %d", cfg.MinConfirmations)
	}

	r := &Reconciler{
		store:      cfg.Store,
		wallet:     cfg.Wallet,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		coin:       cfg.CoinSymbol,
		minConf:    cfg.MinConfirmations,
		startDelay: cfg.StartDelay,
		timeout:    cfg.QueryTimeout,
		clock:      cfg.Clock,
		ticker:     cfg.Ticker,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	if r.clock == nil {
		r.clock = clock.NewDefaultClock()
	}
	if r.ticker == nil {
		r.ticker = ticker.New(cfg.Interval)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	return r, nil
}

// Start launches the polling loop. It returns immediately.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		zap.L().Info("Starting deposit reconciler",
			zap.Duration("start_delay", r.startDelay),
			zap.Int("min_confirmations", r.minConf))
		go r.pollLoop(ctx)
	})
}

// Stop waits for the account currently being reconciled, then stops.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		zap.L().Info("Stopping deposit reconciler")
		close(r.stopChan)
		// Never started: nothing to wait for.
		r.startOnce.Do(func() { close(r.doneChan) })
		<-r.doneChan
		zap.L().Info("Deposit reconciler stopped")
	})
}

// pollLoop waits out the start delay, runs a pass, then one pass per tick.
func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.doneChan)

	if r.startDelay > 0 {
		select {
		case <-r.clock.TickAfter(r.startDelay):
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	r.ticker.Resume()
	defer r.ticker.Stop()

	zap.L().Info("Deposit reconciler started")
	r.RunPass(ctx)

	for {
		select {
		case <-r.ticker.Ticks():
			r.RunPass(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) stopping() bool {
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

// RunPass reconciles every account that has a deposit address. A failure on
// one account is logged and does not affect the others.
func (r *Reconciler) RunPass(ctx context.Context) PassStats {
	start := r.clock.Now()
	stats := PassStats{Amount: decimal.Zero}
	defer func() {
		r.metrics.ReconcilePasses.Inc()
		r.metrics.ReconcileDuration.Observe(r.clock.Now().Sub(start).Seconds())
	}()

	accounts, err := r.store.ListDepositAccounts(ctx)
	if err != nil {
		zap.L().Error("Failed to list deposit accounts", zap.Error(err))
		return stats
	}

	for _, account := range accounts {
		if r.stopping() || ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		stats.Accounts++
		r.reconcileAccount(ctx, account, &stats)
	}

	if stats.Credited > 0 || stats.Failed > 0 {
		zap.L().Info("Reconciliation pass finished",
			zap.Int("accounts", stats.Accounts),
			zap.Int("credited", stats.Credited),
			zap.Int("failed", stats.Failed),
			zap.String("amount", stats.Amount.String()))
	}
	return stats
}

func (r *Reconciler) reconcileAccount(ctx context.Context, account models.Account, stats *PassStats) {
	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	received, err := r.wallet.ConfirmedReceived(queryCtx, account.DepositAddress, r.minConf)
	cancel()
	if err != nil {
		stats.Failed++
		r.metrics.WalletErrors.WithLabelValues("getreceivedbyaddress", walletKind(err)).Inc()
		zap.L().Warn("Failed to query confirmed receipts",
			zap.String("account_id", account.Id),
			zap.String("address", account.DepositAddress),
			zap.Error(err))
		return
	}

	if received.LessThan(account.CreditedTotal) {
		stats.Regressions++
		zap.L().Warn("Confirmed receipts below watermark",
			zap.String("account_id", account.Id),
			zap.String("received", received.String()),
			zap.String("credited_total", account.CreditedTotal.String()))
		return
	}
	if received.Equal(account.CreditedTotal) {
		return
	}

	result, err := r.store.ApplyCredit(ctx, account.Id, received)
	if err != nil {
		stats.Failed++
		zap.L().Error("Failed to apply deposit credit",
			zap.String("account_id", account.Id),
			zap.String("received", received.String()),
			zap.Error(err))
		return
	}
	if !result.Applied {
		return
	}

	stats.Credited++
	stats.Amount = stats.Amount.Add(result.Amount)
	r.metrics.DepositsCredited.Inc()
	metrics.AddCoins(r.metrics.DepositedAmount, result.Amount)
	r.notify(ctx, account.Id, result)
}

// notify is best effort: the credit is already durable.
func (r *Reconciler) notify(ctx context.Context, accountId string, result *store.CreditResult) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text := fmt.Sprintf("Deposit confirmed: %s\nNew balance: %s",
		models.FormatCoins(result.Amount, r.coin),
		models.FormatCoins(result.Balance, r.coin))
	if err := r.notifier.Notify(ctx, accountId, text); err != nil {
		zap.L().Debug("Deposit notification not delivered",
			zap.String("account_id", accountId),
			zap.Error(err))
	}
}

func walletKind(err error) string {
	switch {
	case wallet.IsTransient(err):
		return wallet.KindTransient.String()
	case wallet.IsProtocol(err):
		return wallet.KindProtocol.String()
	}
	return "other"
}
