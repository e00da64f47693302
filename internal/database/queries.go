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

package database

const accountColumns = `id, username, deposit_address, credited_total, balance,
		last_faucet_at, last_active_at, created_at, version`

const (
	// Account queries
	queryInsertAccount = `
		INSERT OR IGNORE INTO accounts (id, username, created_at) VALUES (?, ?, ?)`

	queryUpdateUsername = `
		UPDATE accounts SET username = ? WHERE id = ? AND username != ?`

	queryGetAccount = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ?`

	queryFindAccountByUsername = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE LOWER(username) = LOWER(?)
		ORDER BY COALESCE(last_active_at, 0) DESC
		LIMIT 1`

	querySetDepositAddress = `
		UPDATE accounts SET deposit_address = ?, version = version + 1
		WHERE id = ? AND deposit_address IS NULL`

	queryListAccounts = `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY id`

	queryListDepositAccounts = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE deposit_address IS NOT NULL
		ORDER BY id`

	queryTouchActive = `
		UPDATE accounts SET last_active_at = ? WHERE id = ?`

	queryActiveSince = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE last_active_at >= ?
		ORDER BY last_active_at DESC`

	// Balance queries
	queryUpdateBalance = `
		UPDATE accounts
		SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?`

	queryUpdateCredited = `
		UPDATE accounts
		SET balance = ?, credited_total = ?, version = version + 1
		WHERE id = ? AND version = ?`

	queryUpdateFaucet = `
		UPDATE accounts
		SET balance = ?, last_faucet_at = ?, version = version + 1
		WHERE id = ? AND version = ?`

	// Transfer queries
	queryInsertTransfer = `
		INSERT INTO transfers (kind, from_account, to_account, amount, fee, external_ref, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryListTransfers = `
		SELECT id, kind, from_account, to_account, amount, fee, external_ref, reference, created_at
		FROM transfers
		WHERE from_account = ? OR to_account = ?
		ORDER BY id DESC
		LIMIT ?`

	queryListAllTransfers = `
		SELECT id, kind, from_account, to_account, amount, fee, external_ref, reference, created_at
		FROM transfers
		ORDER BY id DESC
		LIMIT ?`

	// Audit queries
	queryAuditAccounts = `
		SELECT balance, credited_total FROM accounts`

	queryAuditTransfers = `
		SELECT kind, amount, fee FROM transfers`
)
