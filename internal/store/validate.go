package store

import (
	"fmt"
	"sort"
	"strings"

	"pep-tipbot-go/internal/models"

	"github.com/shopspring/decimal"
)

// UnitPlaces is the number of decimal places of the smallest coin unit.
const UnitPlaces = models.AmountPlaces

// ValidateAmount checks that amount is positive and representable in whole units.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Truncate(UnitPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), UnitPlaces)
	}
	return nil
}

// ValidateDebit checks the params shared by every debit-like call.
func ValidateDebit(params DebitParams) error {
	if params.AccountId == "" {
		return fmt.Errorf("account id is required")
	}
	if err := ValidateAmount(params.Amount); err != nil {
		return err
	}
	if !params.Transfer.Kind.Valid() {
		return fmt.Errorf("invalid transfer kind %q", params.Transfer.Kind)
	}
	return nil
}

// ValidateCredit checks the params shared by every credit-like call.
func ValidateCredit(params CreditParams) error {
	return ValidateDebit(DebitParams(params))
}

// ValidateTransfer checks a tip before any account is locked.
func ValidateTransfer(params TransferParams) error {
	if params.From == "" {
		return fmt.Errorf("sender is required")
	}
	if len(params.Legs) == 0 {
		return fmt.Errorf("%w: no recipients", ErrRecipientNotFound)
	}
	seen := make(map[string]bool, len(params.Legs))
	for _, leg := range params.Legs {
		if leg.To == "" || leg.To == params.From {
			return fmt.Errorf("%w: invalid recipient %q", ErrRecipientNotFound, leg.To)
		}
		if seen[leg.To] {
			return fmt.Errorf("duplicate recipient %q", leg.To)
		}
		seen[leg.To] = true
		if err := ValidateAmount(leg.Amount); err != nil {
			return err
		}
	}
	return nil
}

// SortedIds returns a sorted copy of ids without duplicates.
func SortedIds(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeUsername strips a leading '@' and lowercases the handle.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// TipTransfer builds the record appended for one leg of a tip.
func TipTransfer(from string, leg TransferLeg) models.Transfer {
	return models.Transfer{
		Kind:   models.TransferTip,
		From:   from,
		To:     leg.To,
		Amount: leg.Amount,
	}
}
