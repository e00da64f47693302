package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"pep-tipbot-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	readRetries         = 3
	readInitialInterval = 250 * time.Millisecond
	readMaxInterval     = 2 * time.Second
)

// Gateway talks to a bitcoind-style wallet node. Every call is bounded by
// its context and the configured timeout. Reads retry transient failures
// with exponential backoff; sends are attempted once.
type Gateway struct {
	sender  *Sender
	timeout time.Duration
}

func NewGateway(cfg models.WalletConfig) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("wallet rpc url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("wallet rpc timeout must be positive, got %v", cfg.Timeout)
	}

	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet rpc url: %w", err)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("wallet rpc url %q has no host", cfg.URL)
	}

	sender, err := NewSender(cfg.URL, cfg.User, cfg.Password, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Wallet gateway initialized", zap.String("host", endpoint.Host))
	return &Gateway{sender: sender, timeout: cfg.Timeout}, nil
}

func (g *Gateway) Shutdown() {
	g.sender.client.CloseIdleConnections()
}

func readBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readInitialInterval
	b.MaxInterval = readMaxInterval
	// The context deadline bounds the total time.
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, readRetries), ctx)
}

// call runs a read-only rpc bounded by ctx and the configured timeout,
// retrying transient failures.
func (g *Gateway) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var raw json.RawMessage
	operation := func() error {
		var err error
		raw, err = g.sender.Call(ctx, method, params...)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		zap.L().With(models.LogFields(ctx)...).Debug("Retrying wallet read",
			zap.String("method", method),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, readBackOff(ctx), notify); err != nil {
		var walletErr *Error
		if errors.As(err, &walletErr) {
			return nil, walletErr
		}
		// Context expiry while waiting between attempts.
		return nil, transient(method, err)
	}
	return raw, nil
}

// NewAddress issues a fresh receiving address under label.
func (g *Gateway) NewAddress(ctx context.Context, label string) (string, error) {
	const method = "getnewaddress"
	raw, err := g.call(ctx, method, label)
	if err != nil {
		return "", err
	}
	var address string
	if err := json.Unmarshal(raw, &address); err != nil {
		return "", protocol(method, fmt.Errorf("decode address: %w", err))
	}
	if address == "" {
		return "", protocol(method, fmt.Errorf("node returned an empty address"))
	}
	return address, nil
}

// ConfirmedReceived returns the cumulative amount received by address with
// at least minConf confirmations.
func (g *Gateway) ConfirmedReceived(ctx context.Context, address string, minConf int) (decimal.Decimal, error) {
	const method = "getreceivedbyaddress"
	raw, err := g.call(ctx, method, address, minConf)
	if err != nil {
		return decimal.Zero, err
	}
	return decodeAmount(method, raw)
}

// Send transmits amount to address and returns the node's transaction id.
// The request is never retried.
func (g *Gateway) Send(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	const method = "sendtoaddress"
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.sender.Call(ctx, method, address, json.RawMessage(amount.StringFixed(8)))
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", protocol(method, fmt.Errorf("decode txid: %w", err))
	}
	return txid, nil
}

// FaucetInfo returns an address under the faucet label and the confirmed
// amount it has received.
func (g *Gateway) FaucetInfo(ctx context.Context, label string, minConf int) (*models.FaucetInfo, error) {
	address, err := g.NewAddress(ctx, label)
	if err != nil {
		return nil, err
	}
	received, err := g.ConfirmedReceived(ctx, address, minConf)
	if err != nil {
		return nil, err
	}
	return &models.FaucetInfo{Address: address, Received: received}, nil
}

func decodeAmount(method string, raw json.RawMessage) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if err := json.Unmarshal(raw, &amount); err != nil {
		return decimal.Zero, protocol(method, fmt.Errorf("decode amount %s: %w", raw, err))
	}
	if amount.IsNegative() {
		return decimal.Zero, protocol(method, fmt.Errorf("negative amount %s", amount.String()))
	}
	return amount, nil
}
