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
	"flag"
	"fmt"

	"pep-tipbot-go/internal/common"
	"pep-tipbot-go/internal/config"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts   int
	fundedAccounts  int
	withAddresses   int
	recentTransfers int
}

func printTransfer(transfer models.Transfer, coin string, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	ref := transfer.ExternalRef
	if len(ref) > 12 {
		ref = ref[:12] + "..."
	}
	fmt.Printf("%s %-8s %20s  from=%-12s to=%-12s ref=%s (%s)\n",
		symbol,
		transfer.Kind,
		models.FormatCoins(transfer.Amount, coin),
		transfer.From,
		transfer.To,
		ref,
		transfer.CreatedAt.Format("2006-01-02 15:04:05"))
}

func processAccount(ctx context.Context, account models.Account, ledger store.LedgerStore, coin string, history int) (int, error) {
	common.PrintAccount(account, coin)
	if history <= 0 {
		return 0, nil
	}

	transfers, err := ledger.ListTransfers(ctx, account.Id, history)
	if err != nil {
		return 0, fmt.Errorf("failed to list transfers: %w", err)
	}
	for i, transfer := range transfers {
		printTransfer(transfer, coin, i == len(transfers)-1)
	}
	return len(transfers), nil
}

func processAccountsAndGenerateReport(ctx context.Context, accounts []models.Account, ledger store.LedgerStore, coin string, history int, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, account := range accounts {
		stats.totalAccounts++
		if account.Balance.IsPositive() {
			stats.fundedAccounts++
		}
		if account.HasDepositAddress() {
			stats.withAddresses++
		}

		count, err := processAccount(ctx, account, ledger, coin, history)
		if err != nil {
			logger.Error("Failed to process account",
				zap.String("account_id", account.Id),
				zap.Error(err))
			continue
		}
		stats.recentTransfers += count
	}

	return stats
}

func main() {
	ctx := context.Background()

	// Parse command line flags
	idFlag := flag.String("id", "", "Filter by account id (optional)")
	historyFlag := flag.Int("history", 0, "Number of recent transfers to print per account")
	auditFlag := flag.Bool("audit", true, "Print the conservation audit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	logger.Info("Starting balance query")

	// Read-only: the wallet node is not needed
	logger.Info("Connecting to database",
		zap.String("driver", cfg.Database.Driver),
		zap.String("path", cfg.Database.Path))
	ledger, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer ledger.Close()

	accounts, err := common.LoadAccounts(ctx, ledger, *idFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}

	coin := cfg.Wallet.CoinSymbol
	common.PrintHeader("ACCOUNT BALANCE REPORT", common.WideWidth)

	stats := processAccountsAndGenerateReport(ctx, accounts, ledger, coin, *historyFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d accounts, %d funded, %d with deposit addresses",
		stats.totalAccounts, stats.fundedAccounts, stats.withAddresses)
	common.PrintFooter(summary, common.WideWidth)

	if *auditFlag && *idFlag == "" {
		audit, err := ledger.Audit(ctx)
		if err != nil {
			logger.Fatal("Failed to audit ledger", zap.Error(err))
		}
		common.PrintAudit(audit, coin)
	}

	logger.Info("Balance query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int("funded_accounts", stats.fundedAccounts),
		zap.Int("transfers_printed", stats.recentTransfers))
}
