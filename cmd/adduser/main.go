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

package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"strings"

	"pep-tipbot-go/internal/common"
	"pep-tipbot-go/internal/config"
	"pep-tipbot-go/internal/models"

	"go.uber.org/zap"
)

var (
	idRegex       = regexp.MustCompile(`^-?[0-9]{1,20}$`)
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)
)

func validateId(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid chat user id: %s", id)
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return nil
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("invalid username format: %s", username)
	}
	return nil
}

func main() {
	ctx := context.Background()

	// Parse command line flags
	idFlag := flag.String("id", "", "Chat user id (required)")
	usernameFlag := flag.String("username", "", "Chat username without @ (optional)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	username := strings.TrimPrefix(*usernameFlag, "@")
	if err := validateId(*idFlag); err != nil {
		zap.L().Fatal("Invalid id", zap.Error(err))
	}
	if err := validateUsername(username); err != nil {
		zap.L().Fatal("Invalid username", zap.Error(err))
	}

	zap.L().Info("Starting account creation",
		zap.String("id", *idFlag),
		zap.String("username", username))

	// Database and wallet node are both needed to assign the address
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	reply, err := services.TipBot.OnDeposit(ctx, models.ChatUser{Id: *idFlag, Username: username})
	if err != nil {
		zap.L().Fatal("Failed to assign deposit address", zap.Error(err))
	}

	account, err := services.Store.GetAccount(ctx, *idFlag)
	if err != nil || account == nil {
		zap.L().Fatal("Account lookup failed after creation", zap.Error(err))
	}
	if !account.HasDepositAddress() {
		// The wallet rejected the request; reply carries the reason
		zap.L().Fatal("Deposit address not assigned", zap.String("reason", reply))
	}

	common.PrintHeader("ACCOUNT READY", common.DefaultWidth)
	common.PrintAccount(*account, cfg.Wallet.CoinSymbol)
	common.PrintSeparator("=", common.DefaultWidth)

	zap.L().Info("Account created successfully",
		zap.String("id", account.Id),
		zap.String("deposit_address", account.DepositAddress))
}
