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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pep-tipbot-go/internal/admin"
	"pep-tipbot-go/internal/common"
	"pep-tipbot-go/internal/config"
	"pep-tipbot-go/internal/telegram"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting tip bot",
		zap.String("coin", cfg.Wallet.CoinSymbol),
		zap.String("driver", cfg.Database.Driver))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.TipBot.HealthCheck(ctx); err != nil {
		zap.L().Fatal("Ledger store not usable", zap.Error(err))
	}

	bot, err := telegram.NewBot(cfg.Telegram, services.TipBot)
	if err != nil {
		zap.L().Fatal("Failed to initialize telegram bot", zap.Error(err))
	}

	reconciler, err := services.NewReconciler(bot)
	if err != nil {
		zap.L().Fatal("Failed to initialize deposit reconciler", zap.Error(err))
	}
	reconciler.Start(ctx)

	var adminServer shutdowner
	if cfg.Admin.Addr != "" {
		server := admin.New(services.Store, services.Registry, services.Clock)
		server.Start(cfg.Admin.Addr)
		adminServer = server
	}

	botDone := make(chan error, 1)
	go func() { botDone <- bot.Run(ctx) }()

	zap.L().Info("Tip bot running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping...")
	case err := <-botDone:
		botDone = nil
		zap.L().Error("Telegram polling stopped unexpectedly", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if !shutdown(shutdownCtx, reconciler, cancel, botDone, adminServer) {
		zap.L().Warn("Forced shutdown after timeout, store left open for pending commands")
		// A pending command may still be between a wallet send and its
		// debit, so the deferred store Close is skipped.
		loggerCleanup()
		os.Exit(1)
	}
	zap.L().Info("Tip bot stopped gracefully")
}

type stopper interface {
	Stop()
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the reconciler, cancels command handling and waits for
// botDone (nil when the bot already returned) before stopping the admin
// server. It reports false when ctx expires first; the caller must then keep
// the store open.
func shutdown(ctx context.Context, rec stopper, cancel context.CancelFunc, botDone <-chan error, adminServer shutdowner) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// The reconciler finishes its current account while the store is
		// still open.
		rec.Stop()
		cancel()
		if botDone != nil {
			if err := <-botDone; err != nil {
				zap.L().Warn("Telegram handlers stopped with error", zap.Error(err))
			}
		}
		if adminServer != nil {
			if err := adminServer.Shutdown(ctx); err != nil {
				zap.L().Warn("Admin server shutdown failed", zap.Error(err))
			}
		}
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
