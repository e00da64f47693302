package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Wallet     WalletConfig
	Reconciler ReconcilerConfig
	Tipping    TippingConfig
	Telegram   TelegramConfig
	Admin      AdminConfig
	LogLevel   string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string
	Path            string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// WalletConfig holds the wallet node JSON-RPC settings
type WalletConfig struct {
	URL         string
	User        string
	Password    string
	Timeout     time.Duration
	LabelPrefix string
	FaucetLabel string
	CoinSymbol  string
	MinConfirms int
}

// ReconcilerConfig holds deposit reconciler settings
type ReconcilerConfig struct {
	PollingInterval time.Duration
	StartDelay      time.Duration
	QueryTimeout    time.Duration
}

// TippingConfig holds transfer engine policy
type TippingConfig struct {
	FaucetAmount   decimal.Decimal
	FaucetInterval time.Duration
	WithdrawFee    decimal.Decimal
	ActiveWindow   time.Duration
}

// TelegramConfig holds chat transport settings
type TelegramConfig struct {
	Token       string
	PollTimeout int
	Debug       bool
}

// AdminConfig holds the admin HTTP listener settings; an empty Addr disables it
type AdminConfig struct {
	Addr string
}
