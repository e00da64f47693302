package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pep-tipbot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("insufficient balance")
	ErrAlreadyAssigned        = errors.New("deposit address already assigned")
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrCooldownActive         = errors.New("faucet cooldown active")
	ErrFeeExceedsAmount       = errors.New("amount must exceed withdrawal fee")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// CooldownError is returned by ClaimFaucet while the previous claim is
// still inside the faucet interval.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("faucet cooldown active: %s remaining", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// ValidationError rejects malformed user input before the ledger is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreditResult describes the outcome of ApplyCredit
type CreditResult struct {
	Applied       bool
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	CreditedTotal decimal.Decimal
}

// DebitParams debits an account and appends the transfer that motivated it.
type DebitParams struct {
	AccountId string
	Amount    decimal.Decimal
	Transfer  models.Transfer
}

// CreditParams credits an account and appends the transfer that motivated it.
type CreditParams struct {
	AccountId string
	Amount    decimal.Decimal
	Transfer  models.Transfer
}

// TransferLeg is one recipient of a tip
type TransferLeg struct {
	To     string
	Amount decimal.Decimal
}

// TransferParams moves value from one account to one or more others. The
// sender is debited by the sum of the legs.
type TransferParams struct {
	From string
	Legs []TransferLeg
}

// Total returns the amount the sender is debited.
func (p TransferParams) Total() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range p.Legs {
		total = total.Add(leg.Amount)
	}
	return total
}

// AccountIds returns every account the transfer touches in ascending order,
// which is the order backends must acquire them in.
func (p TransferParams) AccountIds() []string {
	return SortedIds(append([]string{p.From}, legRecipients(p.Legs)...))
}

func legRecipients(legs []TransferLeg) []string {
	ids := make([]string, 0, len(legs))
	for _, leg := range legs {
		ids = append(ids, leg.To)
	}
	return ids
}

// FaucetParams describes a faucet claim
type FaucetParams struct {
	AccountId string
	Amount    decimal.Decimal
	Interval  time.Duration
}

// LedgerStore defines the contract that every backend (SQLite, PostgreSQL) must satisfy.
// Every mutating call is atomic per account and appends its transfer
// records in the same transaction as the balance change.
type LedgerStore interface {
	// --- Accounts ---
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	EnsureAccount(ctx context.Context, accountId, username string) (*models.Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	SetDepositAddress(ctx context.Context, accountId, address string) error
	ListAccounts(ctx context.Context) ([]models.Account, error)
	ListDepositAccounts(ctx context.Context) ([]models.Account, error)
	TouchActive(ctx context.Context, accountId string) error
	QueryActiveSince(ctx context.Context, cutoff time.Time) ([]models.Account, error)

	// --- Balances ---
	ApplyCredit(ctx context.Context, accountId string, cumulative decimal.Decimal) (*CreditResult, error)
	Debit(ctx context.Context, params DebitParams) (*models.Account, error)
	Credit(ctx context.Context, params CreditParams) (*models.Account, error)
	Transfer(ctx context.Context, params TransferParams) (*models.Account, error)
	ClaimFaucet(ctx context.Context, params FaucetParams) (*models.Account, error)

	// --- Audit ---
	ListTransfers(ctx context.Context, accountId string, limit int) ([]models.Transfer, error)
	Audit(ctx context.Context) (*models.LedgerAudit, error)

	// --- Lifecycle ---
	Close()
}
