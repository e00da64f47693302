package engine

import (
	"context"
	"fmt"

	"pep-tipbot-go/internal/models"
	"pep-tipbot-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReasonSelfTip is the ValidationError reason for a direct tip to oneself.
const ReasonSelfTip = "cannot tip yourself"

// Mode selects who receives a tip.
type Mode int

const (
	// ModeDirect pays the single user named by Selection.Recipient.
	ModeDirect Mode = iota
	// ModeActive splits the amount evenly across every active user.
	ModeActive
	// ModeRandom pays the whole amount to one active user picked at random.
	ModeRandom
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeActive:
		return "active"
	case ModeRandom:
		return "random"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Selection describes the recipients of a tip. Recipient is a username and
// is only used by ModeDirect.
type Selection struct {
	Mode      Mode
	Recipient string
}

// Tip moves amount from the sender to the selected recipients. In active
// mode each recipient gets amount/n truncated to the smallest unit and the
// sender is debited share*n, keeping the remainder.
func (e *Engine) Tip(ctx context.Context, senderId string, amount decimal.Decimal, selection Selection) (*models.TipResult, error) {
	result, err := e.tip(ctx, senderId, amount, selection)
	e.record("tip_"+selection.Mode.String(), err)
	return result, err
}

func (e *Engine) tip(ctx context.Context, senderId string, amount decimal.Decimal, selection Selection) (*models.TipResult, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}

	// Shares the withdraw lock so a debit never lands between a
	// withdrawal's balance check and its send.
	unlock := e.locks.Lock(senderId)
	defer unlock()

	sender, err := e.store.GetAccount(ctx, senderId)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, senderId)
	}

	recipients, err := e.selectRecipients(ctx, senderId, selection)
	if err != nil {
		return nil, err
	}

	share := amount
	if selection.Mode == ModeActive {
		share = amount.Div(decimal.NewFromInt(int64(len(recipients)))).Truncate(store.UnitPlaces)
		if !share.IsPositive() {
			return nil, &store.ValidationError{
				Field:  "amount",
				Reason: fmt.Sprintf("%s is too small to split across %d users", amount.String(), len(recipients)),
			}
		}
	}

	legs := make([]store.TransferLeg, 0, len(recipients))
	for _, id := range recipients {
		legs = append(legs, store.TransferLeg{To: id, Amount: share})
	}
	params := store.TransferParams{From: senderId, Legs: legs}

	updated, err := e.store.Transfer(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := e.store.TouchActive(ctx, senderId); err != nil {
		zap.L().With(models.LogFields(ctx)...).Warn("Failed to mark tipper active",
			zap.String("account_id", senderId),
			zap.Error(err))
	}

	return &models.TipResult{
		SenderId:   senderId,
		Recipients: recipients,
		Share:      share,
		Total:      params.Total(),
		NewBalance: updated.Balance,
	}, nil
}

func (e *Engine) selectRecipients(ctx context.Context, senderId string, selection Selection) ([]string, error) {
	if selection.Mode == ModeDirect {
		username := store.NormalizeUsername(selection.Recipient)
		if username == "" {
			return nil, &store.ValidationError{Field: "recipient", Reason: "is required"}
		}
		target, err := e.store.FindAccountByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, fmt.Errorf("%w: @%s", store.ErrRecipientNotFound, username)
		}
		if target.Id == senderId {
			return nil, &store.ValidationError{Field: "recipient", Reason: ReasonSelfTip}
		}
		return []string{target.Id}, nil
	}

	active, err := e.ActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(active))
	for _, account := range active {
		if account.Id != senderId {
			candidates = append(candidates, account.Id)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoActiveUsers
	}

	switch selection.Mode {
	case ModeActive:
		return candidates, nil
	case ModeRandom:
		return []string{candidates[e.rand(len(candidates))]}, nil
	}
	return nil, fmt.Errorf("unknown tip mode %v", selection.Mode)
}
