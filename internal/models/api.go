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
	"github.com/shopspring/decimal"
)

// ChatUser identifies the sender of an inbound command
type ChatUser struct {
	Id       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// WithdrawResult represents the result of a successful withdrawal
type WithdrawResult struct {
	AccountId    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	Sent         decimal.Decimal `json:"sent"`
	TxId         string          `json:"txid"`
	WithdrawalId string          `json:"withdrawal_id"`
	NewBalance   decimal.Decimal `json:"new_balance"`
}

// TipResult represents the result of a successful tip
type TipResult struct {
	SenderId   string          `json:"sender_id"`
	Recipients []string        `json:"recipients"`
	Share      decimal.Decimal `json:"share"`
	Total      decimal.Decimal `json:"total"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// FaucetResult represents the result of a successful faucet claim
type FaucetResult struct {
	AccountId  string          `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// FaucetInfo describes the faucet deposit address and its confirmed receipts
type FaucetInfo struct {
	Address  string          `json:"address"`
	Received decimal.Decimal `json:"received"`
}
