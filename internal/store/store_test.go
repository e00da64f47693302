package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"1", true},
		{"0.00000001", true},
		{"123.45678900", true},
		{"0", false},
		{"-1", false},
		{"0.000000001", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.valid && err != nil {
				t.Errorf("Expected %s to be valid, got %v", tt.amount, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("Expected ErrInvalidAmount for %s, got %v", tt.amount, err)
			}
		})
	}
}

func TestValidateTransfer(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		name    string
		params  TransferParams
		wantErr bool
	}{
		{"ok", TransferParams{From: "a", Legs: []TransferLeg{{To: "b", Amount: one}}}, false},
		{"no sender", TransferParams{Legs: []TransferLeg{{To: "b", Amount: one}}}, true},
		{"no legs", TransferParams{From: "a"}, true},
		{"self", TransferParams{From: "a", Legs: []TransferLeg{{To: "a", Amount: one}}}, true},
		{"duplicate", TransferParams{From: "a", Legs: []TransferLeg{{To: "b", Amount: one}, {To: "b", Amount: one}}}, true},
		{"zero leg", TransferParams{From: "a", Legs: []TransferLeg{{To: "b", Amount: decimal.Zero}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransfer(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTransferParams_OrderAndTotal(t *testing.T) {
	params := TransferParams{
		From: "m",
		Legs: []TransferLeg{
			{To: "z", Amount: decimal.RequireFromString("1.5")},
			{To: "a", Amount: decimal.RequireFromString("2.25")},
		},
	}

	if got := strings.Join(params.AccountIds(), ","); got != "a,m,z" {
		t.Errorf("Expected ascending lock order a,m,z, got %s", got)
	}
	if got := params.Total().String(); got != "3.75" {
		t.Errorf("Expected total 3.75, got %s", got)
	}
}

func TestCooldownError(t *testing.T) {
	var err error = &CooldownError{Remaining: 90 * time.Second}
	if !errors.Is(err, ErrCooldownActive) {
		t.Errorf("Expected CooldownError to match ErrCooldownActive")
	}
	if !strings.Contains(err.Error(), "1m30s") {
		t.Errorf("Expected remaining time in message, got %q", err.Error())
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername(" @Alice "); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
}
