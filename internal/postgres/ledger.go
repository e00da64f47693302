package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx, queryGetAccount, accountId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query account %s: %w", accountId, err)
	}
	return account, nil
}

func (s *Service) EnsureAccount(ctx context.Context, accountId, username string) (*models.Account, error) {
	if accountId == "" {
		return nil, fmt.Errorf("account id is required")
	}
	tag, err := s.pool.Exec(ctx, queryInsertAccount, accountId, username, s.clock.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("unable to insert account: %w", err)
	}
	if tag.RowsAffected() > 0 {
		zap.L().Info("Account created", zap.String("account_id", accountId), zap.String("username", username))
	}
	if username != "" {
		if _, err := s.pool.Exec(ctx, queryUpdateUsername, username, accountId); err != nil {
			return nil, fmt.Errorf("unable to update username: %w", err)
		}
	}

	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	return account, nil
}

func (s *Service) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	name := store.NormalizeUsername(username)
	if name == "" {
		return nil, nil
	}
	account, err := scanAccount(s.pool.QueryRow(ctx, queryFindAccountByUsername, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query account by username: %w", err)
	}
	return account, nil
}

func (s *Service) SetDepositAddress(ctx context.Context, accountId, address string) error {
	if address == "" {
		return &store.ValidationError{Field: "address", Reason: "empty"}
	}
	tag, err := s.pool.Exec(ctx, querySetDepositAddress, address, accountId)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s is assigned to another account", store.ErrAlreadyAssigned, address)
		}
		return fmt.Errorf("unable to set deposit address: %w", err)
	}
	if tag.RowsAffected() == 1 {
		zap.L().Info("Deposit address assigned", zap.String("account_id", accountId), zap.String("address", address))
		return nil
	}

	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if account.DepositAddress == address {
		return nil
	}
	return fmt.Errorf("%w: account %s has %s", store.ErrAlreadyAssigned, accountId, account.DepositAddress)
}

func (s *Service) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return s.queryAccounts(ctx, queryListAccounts)
}

func (s *Service) ListDepositAccounts(ctx context.Context) ([]models.Account, error) {
	return s.queryAccounts(ctx, queryListDepositAccounts)
}

func (s *Service) TouchActive(ctx context.Context, accountId string) error {
	if _, err := s.pool.Exec(ctx, queryTouchActive, s.clock.Now().UnixNano(), accountId); err != nil {
		return fmt.Errorf("unable to touch account %s: %w", accountId, err)
	}
	return nil
}

func (s *Service) QueryActiveSince(ctx context.Context, cutoff time.Time) ([]models.Account, error) {
	return s.queryAccounts(ctx, queryActiveSince, cutoff.UnixNano())
}

func lockAccount(ctx context.Context, tx pgx.Tx, accountId string) (*models.Account, error) {
	account, err := scanAccount(tx.QueryRow(ctx, queryLockAccount, accountId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", accountId, err)
	}
	return account, nil
}

func execVersioned(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

func setBalance(ctx context.Context, tx pgx.Tx, account *models.Account, balance decimal.Decimal) error {
	if err := execVersioned(ctx, tx, queryUpdateBalance, balance.String(), account.Id, account.Version); err != nil {
		return err
	}
	account.Balance = balance
	account.Version++
	return nil
}

func (s *Service) insertTransfer(ctx context.Context, tx pgx.Tx, record models.Transfer) error {
	if !record.Kind.Valid() {
		return fmt.Errorf("invalid transfer kind %q", record.Kind)
	}
	var id int64
	err := tx.QueryRow(ctx, queryInsertTransfer,
		string(record.Kind), optional(record.From), optional(record.To),
		record.Amount.String(), record.Fee.String(), record.ExternalRef, record.Reference,
		s.clock.Now().UnixNano()).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (s *Service) ApplyCredit(ctx context.Context, accountId string, cumulative decimal.Decimal) (*store.CreditResult, error) {
	if cumulative.IsNegative() {
		return nil, fmt.Errorf("%w: negative cumulative receipts %s", store.ErrInvalidAmount, cumulative.String())
	}

	var result store.CreditResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, accountId)
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
		if err := s.insertTransfer(ctx, tx, models.Transfer{
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
			zap.String("new_balance", result.Balance.String()))
	}
	return &result, nil
}

func (s *Service) Debit(ctx context.Context, params store.DebitParams) (*models.Account, error) {
	if err := store.ValidateDebit(params); err != nil {
		return nil, err
	}
	var updated *models.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, params.AccountId)
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
		if err := s.insertTransfer(ctx, tx, record); err != nil {
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
		zap.String("amount", params.Amount.String()))
	return updated, nil
}

func (s *Service) Credit(ctx context.Context, params store.CreditParams) (*models.Account, error) {
	if err := store.ValidateCredit(params); err != nil {
		return nil, err
	}
	var updated *models.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, params.AccountId)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, tx, account, account.Balance.Add(params.Amount)); err != nil {
			return err
		}
		record := params.Transfer
		record.To = account.Id
		record.Amount = params.Amount
		if err := s.insertTransfer(ctx, tx, record); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Transfer(ctx context.Context, params store.TransferParams) (*models.Account, error) {
	if err := store.ValidateTransfer(params); err != nil {
		return nil, err
	}
	total := params.Total()

	var sender *models.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids := params.AccountIds()
		accounts := make(map[string]*models.Account, len(ids))
		for _, id := range ids {
			account, err := lockAccount(ctx, tx, id)
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
		if err := setBalance(ctx, tx, sender, sender.Balance.Sub(total)); err != nil {
			return err
		}
		for _, leg := range params.Legs {
			recipient := accounts[leg.To]
			if err := setBalance(ctx, tx, recipient, recipient.Balance.Add(leg.Amount)); err != nil {
				return err
			}
			if err := s.insertTransfer(ctx, tx, store.TipTransfer(params.From, leg)); err != nil {
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
		zap.String("total", total.String()))
	return sender, nil
}

func (s *Service) ClaimFaucet(ctx context.Context, params store.FaucetParams) (*models.Account, error) {
	if err := store.ValidateAmount(params.Amount); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var updated *models.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, params.AccountId)
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
		if err := s.insertTransfer(ctx, tx, models.Transfer{
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
	return updated, nil
}

func (s *Service) ListTransfers(ctx context.Context, accountId string, limit int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, queryListTransfers, accountId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var (
			t           models.Transfer
			kind        string
			from, to    *string
			amount, fee string
			createdAt   int64
		)
		if err := rows.Scan(&t.Id, &kind, &from, &to, &amount, &fee, &t.ExternalRef, &t.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Kind = models.TransferKind(kind)
		if from != nil {
			t.From = *from
		}
		if to != nil {
			t.To = *to
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amount, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("failed to parse fee '%s': %w", fee, err)
		}
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return transfers, nil
}

// Audit reads both tables under one REPEATABLE READ snapshot.
func (s *Service) Audit(ctx context.Context) (*models.LedgerAudit, error) {
	audit := &models.LedgerAudit{GeneratedAt: s.clock.Now().UTC()}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, queryAuditAccounts)
		if err != nil {
			return fmt.Errorf("failed to query balances: %w", err)
		}
		for rows.Next() {
			var balanceStr, creditedStr string
			if err := rows.Scan(&balanceStr, &creditedStr); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan balance: %w", err)
			}
			balance, err := decimal.NewFromString(balanceStr)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
			}
			credited, err := decimal.NewFromString(creditedStr)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to parse credited total '%s': %w", creditedStr, err)
			}
			audit.Accounts++
			audit.BalanceTotal = audit.BalanceTotal.Add(balance)
			audit.CreditedTotal = audit.CreditedTotal.Add(credited)
			if balance.IsNegative() {
				audit.NegativeCount++
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating balances: %w", err)
		}

		rows, err = tx.Query(ctx, queryAuditTransfers)
		if err != nil {
			return fmt.Errorf("failed to query transfers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var kind, amountStr, feeStr string
			if err := rows.Scan(&kind, &amountStr, &feeStr); err != nil {
				return fmt.Errorf("failed to scan transfer: %w", err)
			}
			amount, err := decimal.NewFromString(amountStr)
			if err != nil {
				return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
			}
			fee, err := decimal.NewFromString(feeStr)
			if err != nil {
				return fmt.Errorf("failed to parse fee '%s': %w", feeStr, err)
			}
			audit.Add(models.TransferKind(kind), amount, fee)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}
