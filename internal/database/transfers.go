package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pep-tipbot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// insertTransfer appends to the transfer log inside the caller's transaction.
func (s *Service) insertTransfer(ctx context.Context, tx *sql.Tx, record models.Transfer) (int64, error) {
	if !record.Kind.Valid() {
		return 0, fmt.Errorf("invalid transfer kind %q", record.Kind)
	}
	if !record.Amount.IsPositive() {
		return 0, fmt.Errorf("transfer amount must be positive, got %s", record.Amount.String())
	}

	result, err := tx.ExecContext(ctx, queryInsertTransfer,
		string(record.Kind), nullString(record.From), nullString(record.To),
		record.Amount.String(), record.Fee.String(), record.ExternalRef, record.Reference,
		s.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert transfer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transfer id: %w", err)
	}
	return id, nil
}

// ListTransfers returns the newest transfers touching accountId, or the
// newest transfers overall when accountId is empty.
func (s *Service) ListTransfers(ctx context.Context, accountId string, limit int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if accountId == "" {
		rows, err = s.db.QueryContext(ctx, queryListAllTransfers, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, queryListTransfers, accountId, accountId, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transfers []models.Transfer
	for rows.Next() {
		var (
			t           models.Transfer
			kind        string
			from, to    sql.NullString
			amount, fee string
			createdAt   int64
		)
		if err := rows.Scan(&t.Id, &kind, &from, &to, &amount, &fee, &t.ExternalRef, &t.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Kind = models.TransferKind(kind)
		t.From = from.String
		t.To = to.String
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amount, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("failed to parse fee '%s': %w", fee, err)
		}
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		transfers = append(transfers, t)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return transfers, nil
}

// Audit sums balances and the transfer log in one read transaction so both
// sides of the conservation identity come from the same snapshot.
func (s *Service) Audit(ctx context.Context) (*models.LedgerAudit, error) {
	audit := &models.LedgerAudit{GeneratedAt: s.clock.Now().UTC()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	accounts, err := tx.QueryContext(ctx, queryAuditAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	for accounts.Next() {
		var balanceStr, creditedStr string
		if err := accounts.Scan(&balanceStr, &creditedStr); err != nil {
			accounts.Close()
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balance, err := decimal.NewFromString(balanceStr)
		if err != nil {
			accounts.Close()
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		credited, err := decimal.NewFromString(creditedStr)
		if err != nil {
			accounts.Close()
			return nil, fmt.Errorf("failed to parse credited total '%s': %w", creditedStr, err)
		}
		audit.Accounts++
		audit.BalanceTotal = audit.BalanceTotal.Add(balance)
		audit.CreditedTotal = audit.CreditedTotal.Add(credited)
		if balance.IsNegative() {
			audit.NegativeCount++
		}
	}
	if err := accounts.Err(); err != nil {
		accounts.Close()
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}
	accounts.Close()

	transfers, err := tx.QueryContext(ctx, queryAuditTransfers)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer transfers.Close()
	for transfers.Next() {
		var kind, amountStr, feeStr string
		if err := transfers.Scan(&kind, &amountStr, &feeStr); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		fee, err := decimal.NewFromString(feeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fee '%s': %w", feeStr, err)
		}
		audit.Add(models.TransferKind(kind), amount, fee)
	}
	if err := transfers.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	if !audit.Balanced() {
		zap.L().Error("Ledger audit failed",
			zap.String("balance_total", audit.BalanceTotal.String()),
			zap.String("expected", audit.Expected().String()),
			zap.String("credited_total", audit.CreditedTotal.String()),
			zap.String("deposit_total", audit.DepositTotal.String()),
			zap.Int("negative_balances", audit.NegativeCount))
	}
	return audit, nil
}
