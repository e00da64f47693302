package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// loadAccount reads an account inside tx. The immediate transaction already
// holds the write lock, so the row cannot change until commit.
func loadAccount(ctx context.Context, tx *sql.Tx, accountId string) (*models.Account, error) {
	account, err := scanAccount(tx.QueryRowContext(ctx, queryGetAccount, accountId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountId, err)
	}
	return account, nil
}

// execVersioned runs an optimistic-locking update and fails when no row
// matched the expected version.
func execVersioned(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

func setBalance(ctx context.Context, tx *sql.Tx, account *models.Account, balance decimal.Decimal) error {
	if err := execVersioned(ctx, tx, queryUpdateBalance, balance.String(), account.Id, account.Version); err != nil {
		return err
	}
	account.Balance = balance
	account.Version++
	return nil
}

func (s *Service) ApplyCredit(ctx context.Context, accountId string, cumulative decimal.Decimal) (*store.CreditResult, error) {
	if cumulative.IsNegative() {
		return nil, fmt.Errorf("%w: negative cumulative receipts %s", store.ErrInvalidAmount, cumulative.String())
	}

	var result store.CreditResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		account, err := loadAccount(ctx, tx, accountId)
		if err != nil {
			return err
		}

		result = store.CreditResult{Balance: account.Balance, CreditedTotal: account.CreditedTotal}
		if cumulative.LessThanOrEqual(account.CreditedTotal) {
			return nil
		}

		diff := cumulative.Sub(account.CreditedTotal)
		newBalance := account.Balance.Add(diff)
		if err := execVersioned(ctx, tx, queryUpdateCredited,
			newBalance.String(), cumulative.String(), account.Id, account.Version); err != nil {
			return err
		}

		if _, err := s.insertTransfer(ctx, tx, models.Transfer{
			Kind:        models.TransferDeposit,
			To:          account.Id,
			Amount:      diff,
			ExternalRef: account.DepositAddress,
			Reference:   "confirmed " + cumulative.String(),
		}); err != nil {
			return err
		}

		result = store.CreditResult{Applied: true, Amount: diff, Balance: newBalance, CreditedTotal: cumulative}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		zap.L().Info("Deposit credited",
			zap.String("account_id", accountId),
			zap.String("amount", result.Amount.String()),
			zap.String("credited_total", result.CreditedTotal.String()),
			zap.String("new_balance", result.Balance.String()))
	}
	return &result, nil
}

func (s *Service) Debit(ctx context.Context, params store.DebitParams) (*models.Account, error) {
	if err := store.ValidateDebit(params); err != nil {
		return nil, err
	}

	var updated *models.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		account, err := loadAccount(ctx, tx, params.AccountId)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(params.Amount) {
			return fmt.Errorf("%w: balance %s, requested %s",
				store.ErrInsufficientFunds, account.Balance.String(), params.Amount.String())
		}
		if err := setBalance(ctx, tx, account, account.Balance.Sub(params.Amount)); err != nil {
			return err
		}

		record := params.Transfer
		record.From = account.Id
		record.Amount = params.Amount
		if _, err := s.insertTransfer(ctx, tx, record); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Account debited",
		zap.String("account_id", params.AccountId),
		zap.String("kind", string(params.Transfer.Kind)),
		zap.String("amount", params.Amount.String()),
		zap.String("new_balance", updated.Balance.String()))
	return updated, nil
}

func (s *Service) Credit(ctx context.Context, params store.CreditParams) (*models.Account, error) {
	if err := store.ValidateCredit(params); err != nil {
		return nil, err
	}

	var updated *models.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		account, err := loadAccount(ctx, tx, params.AccountId)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, tx, account, account.Balance.Add(params.Amount)); err != nil {
			return err
		}

		record := params.Transfer
		record.To = account.Id
		record.Amount = params.Amount
		if _, err := s.insertTransfer(ctx, tx, record); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Account credited",
		zap.String("account_id", params.AccountId),
		zap.String("kind", string(params.Transfer.Kind)),
		zap.String("amount", params.Amount.String()),
		zap.String("new_balance", updated.Balance.String()))
	return updated, nil
}

// Transfer debits the sender and credits every leg in one transaction,
// touching accounts in ascending id order.
func (s *Service) Transfer(ctx context.Context, params store.TransferParams) (*models.Account, error) {
	if err := store.ValidateTransfer(params); err != nil {
		return nil, err
	}
	total := params.Total()

	var sender *models.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		accounts := make(map[string]*models.Account, len(params.Legs)+1)
		for _, id := range params.AccountIds() {
			account, err := loadAccount(ctx, tx, id)
			if errors.Is(err, store.ErrAccountNotFound) && id != params.From {
				return fmt.Errorf("%w: %s", store.ErrRecipientNotFound, id)
			}
			if err != nil {
				return err
			}
			accounts[id] = account
		}

		sender = accounts[params.From]
		if sender.Balance.LessThan(total) {
			return fmt.Errorf("%w: balance %s, requested %s",
				store.ErrInsufficientFunds, sender.Balance.String(), total.String())
		}

		for _, id := range params.AccountIds() {
			account := accounts[id]
			delta := decimal.Zero
			if id == params.From {
				delta = total.Neg()
			}
			for _, leg := range params.Legs {
				if leg.To == id {
					delta = delta.Add(leg.Amount)
				}
			}
			if err := setBalance(ctx, tx, account, account.Balance.Add(delta)); err != nil {
				return err
			}
		}

		for _, leg := range params.Legs {
			if _, err := s.insertTransfer(ctx, tx, store.TipTransfer(params.From, leg)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Tip processed",
		zap.String("from", params.From),
		zap.Int("recipients", len(params.Legs)),
		zap.String("total", total.String()),
		zap.String("new_balance", sender.Balance.String()))
	return sender, nil
}

// ClaimFaucet credits the faucet amount unless the previous claim is less
// than Interval old. A claim exactly Interval after the last one succeeds.
func (s *Service) ClaimFaucet(ctx context.Context, params store.FaucetParams) (*models.Account, error) {
	if err := store.ValidateAmount(params.Amount); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var updated *models.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		account, err := loadAccount(ctx, tx, params.AccountId)
		if err != nil {
			return err
		}
		if !account.LastFaucetAt.IsZero() {
			if elapsed := now.Sub(account.LastFaucetAt); elapsed < params.Interval {
				return &store.CooldownError{Remaining: params.Interval - elapsed}
			}
		}

		newBalance := account.Balance.Add(params.Amount)
		if err := execVersioned(ctx, tx, queryUpdateFaucet,
			newBalance.String(), now.UnixNano(), account.Id, account.Version); err != nil {
			return err
		}
		if _, err := s.insertTransfer(ctx, tx, models.Transfer{
			Kind:   models.TransferFaucet,
			To:     account.Id,
			Amount: params.Amount,
		}); err != nil {
			return err
		}

		account.Balance = newBalance
		account.LastFaucetAt = now.UTC()
		account.Version++
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Faucet claimed",
		zap.String("account_id", params.AccountId),
		zap.String("amount", params.Amount.String()),
		zap.String("new_balance", updated.Balance.String()))
	return updated, nil
}
