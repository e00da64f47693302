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

package postgres

const accountColumns = `id, username, deposit_address, credited_total, balance,
		last_faucet_at, last_active_at, created_at, version`

const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		deposit_address TEXT UNIQUE,
		credited_total TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		last_faucet_at BIGINT,
		last_active_at BIGINT,
		created_at BIGINT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(LOWER(username));
	CREATE INDEX IF NOT EXISTS idx_accounts_last_active ON accounts(last_active_at);

	CREATE TABLE IF NOT EXISTS transfers (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		from_account TEXT,
		to_account TEXT,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL DEFAULT '0',
		external_ref TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_account);
	CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_account);`

const (
	queryInsertAccount = `
		INSERT INTO accounts (id, username, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	queryUpdateUsername = `
		UPDATE accounts SET username = $1 WHERE id = $2 AND username <> $1`

	queryGetAccount = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`

	queryLockAccount = queryGetAccount + `
		FOR UPDATE`

	queryFindAccountByUsername = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE LOWER(username) = LOWER($1)
		ORDER BY COALESCE(last_active_at, 0) DESC
		LIMIT 1`

	querySetDepositAddress = `
		UPDATE accounts SET deposit_address = $1, version = version + 1
		WHERE id = $2 AND deposit_address IS NULL`

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
		UPDATE accounts SET last_active_at = $1 WHERE id = $2`

	queryActiveSince = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE last_active_at >= $1
		ORDER BY last_active_at DESC`

	queryUpdateBalance = `
		UPDATE accounts
		SET balance = $1, version = version + 1
		WHERE id = $2 AND version = $3`

	queryUpdateCredited = `
		UPDATE accounts
		SET balance = $1, credited_total = $2, version = version + 1
		WHERE id = $3 AND version = $4`

	queryUpdateFaucet = `
		UPDATE accounts
		SET balance = $1, last_faucet_at = $2, version = version + 1
		WHERE id = $3 AND version = $4`

	queryInsertTransfer = `
		INSERT INTO transfers (kind, from_account, to_account, amount, fee, external_ref, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	queryListTransfers = `
		SELECT id, kind, from_account, to_account, amount, fee, external_ref, reference, created_at
		FROM transfers
		WHERE $1 = '' OR from_account = $1 OR to_account = $1
		ORDER BY id DESC
		LIMIT $2`

	queryAuditAccounts = `
		SELECT balance, credited_total FROM accounts`

	queryAuditTransfers = `
		SELECT kind, amount, fee FROM transfers`
)
