package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pep-tipbot-go/internal/engine"
	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/shopspring/decimal"
)

const tipUsage = "Usage:\n/tip amount\n/tip @username amount\n/tip active amount"

// parseTipArgs accepts "amount", "active amount" and "@username amount".
// The amount is only checked for being a number here.
func parseTipArgs(args string) (engine.Selection, decimal.Decimal, bool) {
	fields := strings.Fields(args)
	var target, amountText string
	switch len(fields) {
	case 1:
		amountText = fields[0]
	case 2:
		target, amountText = fields[0], fields[1]
	default:
		return engine.Selection{}, decimal.Zero, false
	}

	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return engine.Selection{}, decimal.Zero, false
	}

	switch {
	case target == "":
		return engine.Selection{Mode: engine.ModeRandom}, amount, true
	case strings.EqualFold(target, "active"):
		return engine.Selection{Mode: engine.ModeActive}, amount, true
	case strings.HasPrefix(target, "@") && len(target) > 1:
		return engine.Selection{Mode: engine.ModeDirect, Recipient: target[1:]}, amount, true
	}
	return engine.Selection{}, decimal.Zero, false
}

// OnTip handles the three /tip forms. The sender must already have an
// account, created through /start.
func (s *TipBotService) OnTip(ctx context.Context, user models.ChatUser, args string) (string, error) {
	if strings.TrimSpace(args) == "" {
		return tipUsage, nil
	}
	selection, amount, ok := parseTipArgs(args)
	if !ok {
		return "Invalid arguments", nil
	}
	if !amount.IsPositive() {
		return "Amount must be > 0", nil
	}

	result, err := s.engine.Tip(ctx, user.Id, amount, selection)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds) && selection.Mode == engine.ModeActive:
			return "Insufficient balance for split tip", nil
		case errors.Is(err, engine.ErrNoActiveUsers) && selection.Mode == engine.ModeRandom:
			return "No active users to tip.", nil
		case isSelfTip(err):
			return "You can't tip yourself.", nil
		}
		return s.render("tip", err)
	}

	if selection.Mode == engine.ModeActive {
		return fmt.Sprintf("Tipped %d active users %s each.", len(result.Recipients), s.coins(result.Share)), nil
	}
	return fmt.Sprintf("Tipped %s.", s.coins(result.Total)), nil
}

func isSelfTip(err error) bool {
	var validation *store.ValidationError
	return errors.As(err, &validation) && validation.Field == "recipient" && validation.Reason == engine.ReasonSelfTip
}
