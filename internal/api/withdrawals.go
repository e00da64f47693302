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

package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pep-tipbot-go/internal/engine"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/wallet"
)

// OnWithdraw handles "/withdraw amount address".
func (s *TipBotService) OnWithdraw(ctx context.Context, user models.ChatUser, args string) (string, error) {
	if _, err := s.ensureUser(ctx, user); err != nil {
		return s.render("withdraw", err)
	}

	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "Usage: /withdraw amount address", nil
	}
	amount, err := models.ParseAmount(fields[0])
	if err != nil {
		return msgInvalidAmount, nil
	}

	result, err := s.engine.Withdraw(ctx, user.Id, amount, fields[1])
	if err != nil {
		var unbalanced *engine.UnbalancedWithdrawalError
		switch {
		case errors.As(err, &unbalanced):
			return fmt.Sprintf("Withdrawal sent with TXID: `%s` but could not be recorded. An operator has been alerted.",
				unbalanced.TxId), err
		case wallet.IsTransient(err):
			return "The wallet did not confirm the withdrawal. Check your balance before trying again.", nil
		}
		return s.render("withdraw", err)
	}

	return fmt.Sprintf("Withdrawal submitted. TXID: `%s`\nFee: %s\nNew balance: %s",
		result.TxId, s.coins(result.Fee), s.coins(result.NewBalance)), nil
}
