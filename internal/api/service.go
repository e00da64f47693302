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
	"fmt"
	"time"

	"pep-tipbot-go/internal/engine"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/shopspring/decimal"
)

// WalletService is the part of the wallet gateway the command surface needs.
type WalletService interface {
	NewAddress(ctx context.Context, label string) (string, error)
	FaucetInfo(ctx context.Context, label string, minConf int) (*models.FaucetInfo, error)
}

// Config holds the presentation settings of the command surface.
type Config struct {
	CoinSymbol       string
	LabelPrefix      string
	FaucetLabel      string
	MinConfirmations int
	// MaxActiveListed caps the usernames printed by OnActive.
	MaxActiveListed int
}

// TipBotService turns chat commands into ledger and wallet operations and
// renders the reply text. Rejections are returned as text with a nil error;
// a non-nil error means something broke and has already been rendered.
type TipBotService struct {
	store  store.LedgerStore
	engine *engine.Engine
	wallet WalletService
	cfg    Config
	help   string
}

func NewTipBotService(ledger store.LedgerStore, eng *engine.Engine, wallet WalletService, cfg Config) *TipBotService {
	if cfg.MaxActiveListed <= 0 {
		cfg.MaxActiveListed = 50
	}
	s := &TipBotService{
		store:  ledger,
		engine: eng,
		wallet: wallet,
		cfg:    cfg,
	}
	s.help = s.helpText()
	return s
}

// HealthCheck verifies the ledger store answers queries.
func (s *TipBotService) HealthCheck(ctx context.Context) error {
	if _, err := s.store.ListTransfers(ctx, "", 1); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *TipBotService) coins(amount decimal.Decimal) string {
	return models.FormatCoins(amount, s.cfg.CoinSymbol)
}

// humanInterval renders an interval the way the faucet messages do: whole
// hours when it divides evenly, minutes otherwise.
func humanInterval(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
