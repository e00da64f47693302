package common

import (
	"context"
	"fmt"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"go.uber.org/zap"
)

// LoadAccounts retrieves accounts based on an optional id filter.
// If idFilter is provided, returns the single account with that id.
// If idFilter is empty, returns all accounts.
func LoadAccounts(ctx context.Context, ledger store.LedgerStore, idFilter string, logger *zap.Logger) ([]models.Account, error) {
	var accounts []models.Account

	if idFilter != "" {
		logger.Info("Looking up account", zap.String("account_id", idFilter))
		account, err := ledger.GetAccount(ctx, idFilter)
		if err != nil {
			return nil, fmt.Errorf("account lookup failed: %w", err)
		}
		if account == nil {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, idFilter)
		}
		accounts = append(accounts, *account)
	} else {
		all, err := ledger.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		accounts = all
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
