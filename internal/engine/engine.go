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

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"pep-tipbot-go/internal/metrics"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
)

// ErrNoActiveUsers is returned when an active or random tip finds nobody to pay.
var ErrNoActiveUsers = fmt.Errorf("%w: no active users", store.ErrRecipientNotFound)

// WalletSender is the part of the wallet gateway withdrawals need.
type WalletSender interface {
	Send(ctx context.Context, address string, amount decimal.Decimal) (string, error)
}

// Config contains configuration for Engine
type Config struct {
	Store          store.LedgerStore
	Wallet         WalletSender
	Clock          clock.Clock
	Metrics        *metrics.Metrics
	Fee            decimal.Decimal
	FaucetAmount   decimal.Decimal
	FaucetInterval time.Duration
	ActiveWindow   time.Duration

	// Rand picks an index in [0, n) for random tips. Defaults to math/rand.
	Rand func(n int) int
}

// Engine applies the user-facing money movements on top of a LedgerStore.
type Engine struct {
	store          store.LedgerStore
	wallet         WalletSender
	clock          clock.Clock
	metrics        *metrics.Metrics
	fee            decimal.Decimal
	faucetAmount   decimal.Decimal
	faucetInterval time.Duration
	activeWindow   time.Duration
	rand           func(n int) int
	locks          *keyedMutex
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a ledger store")
	}
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("engine requires a wallet")
	}
	if cfg.Fee.IsNegative() {
		return nil, fmt.Errorf("withdraw fee cannot be negative, got %s", cfg.Fee.String())
	}
	if err := store.ValidateAmount(cfg.FaucetAmount); err != nil {
		return nil, fmt.Errorf("invalid faucet amount: %w", err)
	}
	if cfg.FaucetInterval <= 0 {
		return nil, fmt.Errorf("faucet interval must be positive, got %v", cfg.FaucetInterval)
	}
	if cfg.ActiveWindow <= 0 {
		return nil, fmt.Errorf("active window must be positive, got %v", cfg.ActiveWindow)
	}

	e := &Engine{
		store:          cfg.Store,
		wallet:         cfg.Wallet,
		clock:          cfg.Clock,
		metrics:        cfg.Metrics,
		fee:            cfg.Fee,
		faucetAmount:   cfg.FaucetAmount,
		faucetInterval: cfg.FaucetInterval,
		activeWindow:   cfg.ActiveWindow,
		rand:           cfg.Rand,
		locks:          newKeyedMutex(),
	}
	if e.clock == nil {
		e.clock = clock.NewDefaultClock()
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	if e.rand == nil {
		e.rand = rand.IntN
	}
	return e, nil
}

// Fee returns the flat withdrawal fee.
func (e *Engine) Fee() decimal.Decimal { return e.fee }

// FaucetAmount returns the amount paid per faucet claim.
func (e *Engine) FaucetAmount() decimal.Decimal { return e.faucetAmount }

// FaucetInterval returns the minimum time between two claims of one account.
func (e *Engine) FaucetInterval() time.Duration { return e.faucetInterval }

// ActiveWindow returns how recent activity must be to count as active.
func (e *Engine) ActiveWindow() time.Duration { return e.activeWindow }

// ActiveAccounts lists accounts active within the window, most recent first.
func (e *Engine) ActiveAccounts(ctx context.Context) ([]models.Account, error) {
	return e.store.QueryActiveSince(ctx, e.clock.Now().Add(-e.activeWindow))
}

// ClaimFaucet pays the configured faucet amount unless the account is still
// cooling down, in which case the error is a *store.CooldownError.
func (e *Engine) ClaimFaucet(ctx context.Context, accountId string) (*models.FaucetResult, error) {
	account, err := e.store.ClaimFaucet(ctx, store.FaucetParams{
		AccountId: accountId,
		Amount:    e.faucetAmount,
		Interval:  e.faucetInterval,
	})
	e.record("faucet", err)
	if err != nil {
		return nil, err
	}
	return &models.FaucetResult{
		AccountId:  accountId,
		Amount:     e.faucetAmount,
		NewBalance: account.Balance,
	}, nil
}

func (e *Engine) record(operation string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case isRejection(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	e.metrics.Operations.WithLabelValues(operation, outcome).Inc()
}

// isRejection reports whether err is a business rule refusal rather than a
// failure of the store or wallet.
func isRejection(err error) bool {
	var validation *store.ValidationError
	return errors.As(err, &validation) ||
		errors.Is(err, store.ErrInsufficientFunds) ||
		errors.Is(err, store.ErrCooldownActive) ||
		errors.Is(err, store.ErrRecipientNotFound) ||
		errors.Is(err, store.ErrFeeExceedsAmount) ||
		errors.Is(err, store.ErrInvalidAmount) ||
		errors.Is(err, store.ErrAccountNotFound)
}

// keyedMutex serializes engine operations per account id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
