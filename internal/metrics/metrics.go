// Package metrics holds the Prometheus collectors shared by the reconciler,
// the transfer engine and the admin server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "tipbot"

type Metrics struct {
	ReconcilePasses   prometheus.Counter
	ReconcileDuration prometheus.Histogram
	DepositsCredited  prometheus.Counter
	DepositedAmount   prometheus.Counter
	WalletErrors      *prometheus.CounterVec
	Operations        *prometheus.CounterVec
	UnbalancedSends   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Deposit reconciliation passes run.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_seconds",
			Help:      "Duration of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		DepositsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_credited_total",
			Help:      "Watermark advances that credited a balance.",
		}),
		DepositedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposited_coins_total",
			Help:      "Coins credited from confirmed deposits.",
		}),
		WalletErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_errors_total",
			Help:      "Wallet node call failures by method and kind.",
		}, []string{"method", "kind"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Transfer engine operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		UnbalancedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_unbalanced_total",
			Help:      "Withdrawals sent on chain whose debit could not be recorded.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ReconcilePasses,
			m.ReconcileDuration,
			m.DepositsCredited,
			m.DepositedAmount,
			m.WalletErrors,
			m.Operations,
			m.UnbalancedSends,
		)
	}
	return m
}

// AddCoins adds a decimal amount to a float counter.
func AddCoins(c prometheus.Counter, amount decimal.Decimal) {
	f, _ := amount.Float64()
	if f > 0 {
		c.Add(f)
	}
}

// Outcome labels used with Operations.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
