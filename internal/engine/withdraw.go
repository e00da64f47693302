package engine

import (
	"context"
	"fmt"
	"strings"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UnbalancedWithdrawalError means coins left the wallet but the matching
// debit could not be recorded. The ledger must be repaired by hand.
type UnbalancedWithdrawalError struct {
	AccountId    string
	WithdrawalId string
	TxId         string
	Amount       decimal.Decimal
	Err          error
}

func (e *UnbalancedWithdrawalError) Error() string {
	return fmt.Sprintf("withdrawal %s sent as %s but debit of %s from %s failed: %v",
		e.WithdrawalId, e.TxId, e.Amount.String(), e.AccountId, e.Err)
}

func (e *UnbalancedWithdrawalError) Unwrap() error { return e.Err }

// Withdraw sends amount minus the fee to address and then debits the full
// amount. The account is locked in the engine from the balance check until
// the debit is recorded, so two withdrawals of one account never race the
// same funds.
func (e *Engine) Withdraw(ctx context.Context, accountId string, amount decimal.Decimal, address string) (*models.WithdrawResult, error) {
	result, err := e.withdraw(ctx, accountId, amount, strings.TrimSpace(address))
	e.record("withdraw", err)
	return result, err
}

func (e *Engine) withdraw(ctx context.Context, accountId string, amount decimal.Decimal, address string) (*models.WithdrawResult, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if address == "" {
		return nil, &store.ValidationError{Field: "address", Reason: "is required"}
	}
	if amount.LessThanOrEqual(e.fee) {
		return nil, fmt.Errorf("%w: amount %s, fee %s", store.ErrFeeExceedsAmount, amount.String(), e.fee.String())
	}

	unlock := e.locks.Lock(accountId)
	defer unlock()

	account, err := e.store.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if account.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s",
			store.ErrInsufficientFunds, account.Balance.String(), amount.String())
	}

	withdrawalId := uuid.New().String()
	sent := amount.Sub(e.fee)
	logger := zap.L().With(models.LogFields(ctx)...).With(
		zap.String("account_id", accountId),
		zap.String("withdrawal_id", withdrawalId),
		zap.String("address", address),
		zap.String("amount", amount.String()),
		zap.String("sent", sent.String()))

	txId, err := e.wallet.Send(ctx, address, sent)
	if err != nil {
		e.metrics.WalletErrors.WithLabelValues("sendtoaddress", walletKind(err)).Inc()
		if wallet.IsTransient(err) {
			// The node may have broadcast before the connection failed.
			logger.Error("Withdrawal send outcome unknown, no debit recorded", zap.Error(err))
		} else {
			logger.Warn("Withdrawal rejected by wallet", zap.Error(err))
		}
		return nil, err
	}

	// The coins are gone; a caller hanging up must not skip the debit.
	updated, err := e.store.Debit(context.WithoutCancel(ctx), store.DebitParams{
		AccountId: accountId,
		Amount:    amount,
		Transfer: models.Transfer{
			Kind:        models.TransferWithdraw,
			Fee:         e.fee,
			ExternalRef: txId,
			Reference:   withdrawalId,
		},
	})
	if err != nil {
		e.metrics.UnbalancedSends.Inc()
		logger.Error("Withdrawal sent but debit failed",
			zap.String("alert", "withdrawal_unbalanced"),
			zap.String("txid", txId),
			zap.Error(err))
		return nil, &UnbalancedWithdrawalError{
			AccountId:    accountId,
			WithdrawalId: withdrawalId,
			TxId:         txId,
			Amount:       amount,
			Err:          err,
		}
	}

	logger.Info("Withdrawal completed", zap.String("txid", txId))
	return &models.WithdrawResult{
		AccountId:    accountId,
		Amount:       amount,
		Fee:          e.fee,
		Sent:         sent,
		TxId:         txId,
		WithdrawalId: withdrawalId,
		NewBalance:   updated.Balance,
	}, nil
}

func walletKind(err error) string {
	switch {
	case wallet.IsTransient(err):
		return wallet.KindTransient.String()
	case wallet.IsProtocol(err):
		return wallet.KindProtocol.String()
	}
	return "other"
}
