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

package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pep-tipbot-go/internal/api"
	"pep-tipbot-go/internal/database"
	"pep-tipbot-go/internal/engine"
	"pep-tipbot-go/internal/metrics"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/postgres"
	"pep-tipbot-go/internal/reconciler"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/wallet"

	"github.com/joho/godotenv"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store    store.LedgerStore
	Wallet   *wallet.Gateway
	Engine   *engine.Engine
	TipBot   *api.TipBotService
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Clock    clock.Clock

	cfg *models.Config
}

// InitializeLogger installs a production zap logger at the given level as
// the global logger.
func InitializeLogger(level string) (*zap.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			log.Printf("Unknown log level %q, using info\n", level)
		} else {
			zapCfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeStore opens the ledger backend selected by the database driver.
func InitializeStore(ctx context.Context, cfg models.DatabaseConfig, clk clock.Clock) (store.LedgerStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return database.NewService(ctx, cfg, clk)
	case "postgres":
		return postgres.NewService(ctx, cfg, clk)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// InitializeServices wires the store, wallet gateway, transfer engine and
// command surface. Metrics are registered on a fresh registry.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	clk := clock.NewDefaultClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	zap.L().Info("Opening ledger store", zap.String("driver", cfg.Database.Driver))
	ledger, err := InitializeStore(ctx, cfg.Database, clk)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Connecting wallet gateway", zap.String("url", cfg.Wallet.URL))
	gateway, err := wallet.NewGateway(cfg.Wallet)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Store:          ledger,
		Wallet:         gateway,
		Clock:          clk,
		Metrics:        m,
		Fee:            cfg.Tipping.WithdrawFee,
		FaucetAmount:   cfg.Tipping.FaucetAmount,
		FaucetInterval: cfg.Tipping.FaucetInterval,
		ActiveWindow:   cfg.Tipping.ActiveWindow,
	})
	if err != nil {
		gateway.Shutdown()
		ledger.Close()
		return nil, err
	}

	tipBot := api.NewTipBotService(ledger, eng, gateway, api.Config{
		CoinSymbol:       cfg.Wallet.CoinSymbol,
		LabelPrefix:      cfg.Wallet.LabelPrefix,
		FaucetLabel:      cfg.Wallet.FaucetLabel,
		MinConfirmations: cfg.Wallet.MinConfirms,
	})

	return &Services{
		Store:    ledger,
		Wallet:   gateway,
		Engine:   eng,
		TipBot:   tipBot,
		Metrics:  m,
		Registry: registry,
		Clock:    clk,
		cfg:      cfg,
	}, nil
}

// NewReconciler builds the deposit reconciler; notifier may be nil.
func (s *Services) NewReconciler(notifier reconciler.Notifier) (*reconciler.Reconciler, error) {
	return reconciler.New(reconciler.Config{
		Store:            s.Store,
		Wallet:           s.Wallet,
		Notifier:         notifier,
		Metrics:          s.Metrics,
		CoinSymbol:       s.cfg.Wallet.CoinSymbol,
		MinConfirmations: s.cfg.Wallet.MinConfirms,
		Interval:         s.cfg.Reconciler.PollingInterval,
		StartDelay:       s.cfg.Reconciler.StartDelay,
		QueryTimeout:     s.cfg.Reconciler.QueryTimeout,
		Clock:            s.Clock,
	})
}

// InitializeDatabaseOnly opens just the ledger store, for read-only tools.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (store.LedgerStore, error) {
	return InitializeStore(ctx, cfg.Database, clock.NewDefaultClock())
}

func (s *Services) Close() {
	if s.Wallet != nil {
		s.Wallet.Shutdown()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
