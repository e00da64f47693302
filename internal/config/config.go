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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pep-tipbot-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// ConfigFileEnv names an optional YAML file of KEY: value defaults using the
// same keys as the environment. Environment variables win.
const ConfigFileEnv = "TIPBOT_CONFIG_FILE"

type source struct {
	file map[string]string
}

func Load() (*models.Config, error) {
	src, err := newSource(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}
	return src.load()
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	for key, value := range raw {
		if value == nil {
			continue
		}
		src.file[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return src, nil
}

func (s *source) load() (*models.Config, error) {
	var errs []string
	duration := func(key, secondsKey string, defaultValue time.Duration) time.Duration {
		d, err := s.getEnvDuration(key, secondsKey, defaultValue)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	amount := func(key string, defaultValue decimal.Decimal) decimal.Decimal {
		d, err := s.getEnvDecimal(key, defaultValue)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	integer := func(key string, defaultValue int) int {
		i, err := s.getEnvInt(key, defaultValue)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return i
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:          strings.ToLower(s.getEnvString("DATABASE_DRIVER", "sqlite")),
			Path:            s.getEnvString("DATABASE_PATH", s.getEnvString("DB_PATH", "tipbot.db")),
			URL:             s.getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    integer("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: duration("DB_CONN_MAX_LIFETIME", "", 5*time.Minute),
			ConnMaxIdleTime: duration("DB_CONN_MAX_IDLE_TIME", "", 30*time.Second),
			PingTimeout:     duration("DB_PING_TIMEOUT", "", 5*time.Second),
			BusyTimeout:     duration("DB_BUSY_TIMEOUT", "", 5*time.Second),
		},
		Wallet: models.WalletConfig{
			URL:         s.getEnvString("RPC_URL", "http://127.0.0.1:22555"),
			User:        s.getEnvString("RPC_USER", ""),
			Password:    s.getEnvString("RPC_PASSWORD", ""),
			Timeout:     duration("RPC_TIMEOUT", "", 30*time.Second),
			LabelPrefix: s.getEnvString("WALLET_LABEL_PREFIX", "u_"),
			FaucetLabel: s.getEnvString("FAUCET_LABEL", "faucet"),
			CoinSymbol:  s.getEnvString("COIN_SYMBOL", "PEP"),
			MinConfirms: integer("MIN_CONF", 5),
		},
		Reconciler: models.ReconcilerConfig{
			PollingInterval: duration("SCAN_INTERVAL", "SCAN_INTERVAL_SECONDS", 30*time.Second),
			StartDelay:      duration("SCAN_START_DELAY", "", 3*time.Second),
			QueryTimeout:    duration("SCAN_QUERY_TIMEOUT", "", 30*time.Second),
		},
		Tipping: models.TippingConfig{
			FaucetAmount:   amount("FAUCET_AMOUNT", decimal.NewFromInt(50)),
			FaucetInterval: duration("FAUCET_INTERVAL", "FAUCET_INTERVAL_SECONDS", 2*time.Hour),
			WithdrawFee:    amount("WITHDRAW_FEE", decimal.NewFromInt(1)),
			ActiveWindow:   duration("ACTIVE_WINDOW", "ACTIVE_WINDOW_SECONDS", 30*time.Minute),
		},
		Telegram: models.TelegramConfig{
			Token:       s.getEnvString("TELEGRAM_BOT_TOKEN", ""),
			PollTimeout: integer("TELEGRAM_POLL_TIMEOUT", 60),
			Debug:       s.getEnvBool("TELEGRAM_DEBUG", false),
		},
		Admin: models.AdminConfig{
			Addr: s.getEnvOptional("ADMIN_ADDR", ":8089"),
		},
		LogLevel: s.getEnvString("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the services rely on.
func Validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.Database.Driver)
	}

	positive := map[string]time.Duration{
		"RPC_TIMEOUT":        cfg.Wallet.Timeout,
		"SCAN_INTERVAL":      cfg.Reconciler.PollingInterval,
		"SCAN_QUERY_TIMEOUT": cfg.Reconciler.QueryTimeout,
		"FAUCET_INTERVAL":    cfg.Tipping.FaucetInterval,
		"ACTIVE_WINDOW":      cfg.Tipping.ActiveWindow,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", key, d)
		}
	}
	if cfg.Reconciler.StartDelay < 0 {
		return fmt.Errorf("SCAN_START_DELAY cannot be negative, got %v", cfg.Reconciler.StartDelay)
	}
	if !cfg.Tipping.FaucetAmount.IsPositive() {
		return fmt.Errorf("FAUCET_AMOUNT must be positive, got %s", cfg.Tipping.FaucetAmount)
	}
	if cfg.Tipping.WithdrawFee.IsNegative() {
		return fmt.Errorf("WITHDRAW_FEE cannot be negative, got %s", cfg.Tipping.WithdrawFee)
	}
	if cfg.Wallet.MinConfirms < 0 {
		return fmt.Errorf("MIN_CONF cannot be negative, got %d", cfg.Wallet.MinConfirms)
	}
	if cfg.Wallet.CoinSymbol == "" {
		return fmt.Errorf("COIN_SYMBOL is required")
	}
	return nil
}

func (s *source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

// getEnvOptional is getEnvString except that a key set to the empty string
// yields the empty string.
func (s *source) getEnvOptional(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := s.file[key]; ok {
		return value
	}
	return defaultValue
}

func (s *source) getEnvString(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration under key, or a whole number of
// seconds under secondsKey.
func (s *source) getEnvDuration(key, secondsKey string, defaultValue time.Duration) (time.Duration, error) {
	if value := s.lookup(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	if secondsKey == "" {
		return defaultValue, nil
	}
	if value := s.lookup(secondsKey); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid seconds for %s: %q (%w)", secondsKey, value, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return defaultValue, nil
}

func (s *source) getEnvInt(key string, defaultValue int) (int, error) {
	if value := s.lookup(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q", key, value)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func (s *source) getEnvBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (s *source) getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := s.lookup(key); value != "" {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q", key, value)
		}
		return amount, nil
	}
	return defaultValue, nil
}
