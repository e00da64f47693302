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

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"go.uber.org/zap"
)

// ensureUser creates the account on first contact, refreshes the username
// and marks the user active.
func (s *TipBotService) ensureUser(ctx context.Context, user models.ChatUser) (*models.Account, error) {
	if user.Id == "" {
		return nil, fmt.Errorf("chat user id is required")
	}
	account, err := s.store.EnsureAccount(ctx, user.Id, user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchActive(ctx, user.Id); err != nil {
		return nil, err
	}
	return account, nil
}

// depositAddress returns the account's address, asking the wallet for one
// on first use. Concurrent first calls may each obtain an address from the
// wallet; the ledger keeps the first and the rest go unused.
func (s *TipBotService) depositAddress(ctx context.Context, account *models.Account) (string, error) {
	if account.HasDepositAddress() {
		return account.DepositAddress, nil
	}

	address, err := s.wallet.NewAddress(ctx, s.cfg.LabelPrefix+account.Id)
	if err != nil {
		return "", err
	}

	err = s.store.SetDepositAddress(ctx, account.Id, address)
	if errors.Is(err, store.ErrAlreadyAssigned) {
		current, getErr := s.store.GetAccount(ctx, account.Id)
		if getErr != nil {
			return "", getErr
		}
		if current.HasDepositAddress() {
			zap.L().Info("Deposit address assigned concurrently, discarding new one",
				zap.String("account_id", account.Id),
				zap.String("kept", current.DepositAddress),
				zap.String("discarded", address))
			return current.DepositAddress, nil
		}
	}
	if err != nil {
		return "", err
	}
	return address, nil
}

// OnStart registers the user, assigns a deposit address and returns the help
// text with the address appended.
func (s *TipBotService) OnStart(ctx context.Context, user models.ChatUser) (string, error) {
	account, err := s.ensureUser(ctx, user)
	if err != nil {
		return s.render("start", err)
	}
	address, err := s.depositAddress(ctx, account)
	if err != nil {
		return s.render("start", err)
	}
	return fmt.Sprintf("%s\nYour deposit address: `%s`", s.help, address), nil
}

func (s *TipBotService) OnHelp() string {
	return s.help
}

// OnDeposit returns the user's deposit address, assigning one on first use.
func (s *TipBotService) OnDeposit(ctx context.Context, user models.ChatUser) (string, error) {
	account, err := s.ensureUser(ctx, user)
	if err != nil {
		return s.render("deposit", err)
	}
	address, err := s.depositAddress(ctx, account)
	if err != nil {
		return s.render("deposit", err)
	}
	return fmt.Sprintf("Your deposit address:\n`%s`", address), nil
}

// OnActivity records a plain group message as activity.
func (s *TipBotService) OnActivity(ctx context.Context, user models.ChatUser) error {
	if _, err := s.ensureUser(ctx, user); err != nil {
		zap.L().Warn("Failed to record activity", zap.String("user_id", user.Id), zap.Error(err))
		return err
	}
	return nil
}
