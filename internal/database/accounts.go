package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account                models.Account
		address                sql.NullString
		credited, balance      string
		lastFaucet, lastActive sql.NullInt64
		createdAt              int64
	)
	if err := row.Scan(&account.Id, &account.Username, &address, &credited, &balance,
		&lastFaucet, &lastActive, &createdAt, &account.Version); err != nil {
		return nil, err
	}

	var err error
	account.CreditedTotal, err = decimal.NewFromString(credited)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credited total '%s': %w", credited, err)
	}
	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balance, err)
	}
	account.DepositAddress = address.String
	account.LastFaucetAt = fromUnix(lastFaucet)
	account.LastActiveAt = fromUnix(lastActive)
	account.CreatedAt = time.Unix(0, createdAt).UTC()
	return &account, nil
}

func (s *Service) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query accounts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

// GetAccount returns nil, nil when the account does not exist.
func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccount, accountId))
	if errors.Is(err, sql.ErrNoRows) {
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

	result, err := s.db.ExecContext(ctx, queryInsertAccount, accountId, username, s.clock.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("unable to insert account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		zap.L().Info("Account created", zap.String("account_id", accountId), zap.String("username", username))
	}

	if username != "" {
		if _, err := s.db.ExecContext(ctx, queryUpdateUsername, username, accountId, username); err != nil {
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

// FindAccountByUsername matches case-insensitively, ignoring a leading '@'.
func (s *Service) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	name := store.NormalizeUsername(username)
	if name == "" {
		return nil, nil
	}
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryFindAccountByUsername, name))
	if errors.Is(err, sql.ErrNoRows) {
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

	result, err := s.db.ExecContext(ctx, querySetDepositAddress, address, accountId)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s is assigned to another account", store.ErrAlreadyAssigned, address)
		}
		return fmt.Errorf("unable to set deposit address: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Info("Deposit address assigned",
			zap.String("account_id", accountId),
			zap.String("address", address))
		return nil
	}

	// Lost the race or called twice; first write wins.
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
	if _, err := s.db.ExecContext(ctx, queryTouchActive, s.clock.Now().UnixNano(), accountId); err != nil {
		return fmt.Errorf("unable to touch account %s: %w", accountId, err)
	}
	return nil
}

func (s *Service) QueryActiveSince(ctx context.Context, cutoff time.Time) ([]models.Account, error) {
	return s.queryAccounts(ctx, queryActiveSince, cutoff.UnixNano())
}
