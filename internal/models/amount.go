package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of decimal places of the smallest coin unit.
const AmountPlaces = 8

// FormatAmount renders an amount truncated to 8 places without trailing zeros.
func FormatAmount(amount decimal.Decimal) string {
	s := amount.Truncate(AmountPlaces).StringFixed(AmountPlaces)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatCoins appends the coin symbol.
func FormatCoins(amount decimal.Decimal, symbol string) string {
	return fmt.Sprintf("%s %s", FormatAmount(amount), symbol)
}

// ParseAmount parses user input into a positive amount with at most 8 places.
func ParseAmount(text string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", text)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(AmountPlaces)) {
		return decimal.Zero, fmt.Errorf("at most %d decimal places", AmountPlaces)
	}
	return amount, nil
}
