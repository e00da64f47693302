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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferKind identifies why a balance moved
type TransferKind string

const (
	TransferDeposit  TransferKind = "deposit"
	TransferTip      TransferKind = "tip"
	TransferWithdraw TransferKind = "withdraw"
	TransferFaucet   TransferKind = "faucet"
)

func (k TransferKind) Valid() bool {
	switch k {
	case TransferDeposit, TransferTip, TransferWithdraw, TransferFaucet:
		return true
	}
	return false
}

// Account is the per-user ledger row
type Account struct {
	Id             string          `db:"id" json:"id"`
	Username       string          `db:"username" json:"username,omitempty"`
	DepositAddress string          `db:"deposit_address" json:"deposit_address,omitempty"`
	CreditedTotal  decimal.Decimal `db:"credited_total" json:"credited_total"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	LastFaucetAt   time.Time       `db:"last_faucet_at" json:"last_faucet_at"`
	LastActiveAt   time.Time       `db:"last_active_at" json:"last_active_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Version        int64           `db:"version" json:"version"`
}

// HasDepositAddress reports whether the wallet has issued an address for the account.
func (a *Account) HasDepositAddress() bool {
	return a != nil && a.DepositAddress != ""
}

// Transfer is an immutable entry of the append-only transfer log.
// From is empty for deposits and faucet claims, To is empty for withdrawals.
type Transfer struct {
	Id          int64           `db:"id" json:"id"`
	Kind        TransferKind    `db:"kind" json:"kind"`
	From        string          `db:"from_account" json:"from,omitempty"`
	To          string          `db:"to_account" json:"to,omitempty"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	ExternalRef string          `db:"external_ref" json:"external_ref,omitempty"`
	Reference   string          `db:"reference" json:"reference,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// LedgerAudit summarises the transfer log against current balances
type LedgerAudit struct {
	Accounts      int             `json:"accounts"`
	BalanceTotal  decimal.Decimal `json:"balance_total"`
	CreditedTotal decimal.Decimal `json:"credited_total"`
	DepositTotal  decimal.Decimal `json:"deposit_total"`
	FaucetTotal   decimal.Decimal `json:"faucet_total"`
	WithdrawTotal decimal.Decimal `json:"withdraw_total"`
	FeeTotal      decimal.Decimal `json:"fee_total"`
	TipTotal      decimal.Decimal `json:"tip_total"`
	TransferCount int64           `json:"transfer_count"`
	NegativeCount int             `json:"negative_balances"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Expected is the balance total implied by the transfer log. Withdraw
// records carry the gross amount debited, which already includes the fee.
func (a *LedgerAudit) Expected() decimal.Decimal {
	return a.DepositTotal.Add(a.FaucetTotal).Sub(a.WithdrawTotal)
}

// Balanced reports whether the conservation identity holds: balances equal
// deposits plus faucet issuance minus net withdrawals and fees, the
// watermark equals credited deposits, and no balance is negative.
func (a *LedgerAudit) Balanced() bool {
	return a.BalanceTotal.Equal(a.Expected()) &&
		a.CreditedTotal.Equal(a.DepositTotal) &&
		a.NegativeCount == 0
}

// Add folds one transfer record into the per-kind totals.
func (a *LedgerAudit) Add(kind TransferKind, amount, fee decimal.Decimal) {
	a.TransferCount++
	switch kind {
	case TransferDeposit:
		a.DepositTotal = a.DepositTotal.Add(amount)
	case TransferFaucet:
		a.FaucetTotal = a.FaucetTotal.Add(amount)
	case TransferWithdraw:
		a.WithdrawTotal = a.WithdrawTotal.Add(amount)
		a.FeeTotal = a.FeeTotal.Add(fee)
	case TransferTip:
		a.TipTotal = a.TipTotal.Add(amount)
	}
}
