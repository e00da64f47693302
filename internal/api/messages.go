package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pep-tipbot-go/internal/engine"
	"pep-tipbot-go/internal/store"
	"pep-tipbot-go/internal/wallet"

	"go.uber.org/zap"
)

const (
	msgStartFirst      = "Please DM me and /start first."
	msgInsufficient    = "Insufficient balance"
	msgInvalidAmount   = "Invalid amount"
	msgTargetNotFound  = "Target user not found or hasn't /start'ed."
	msgNoActiveUsers   = "No active users found."
	msgWalletDown      = "Wallet is unavailable, please try again later."
	msgInternalFailure = "Something went wrong, please try again later."
)

func (s *TipBotService) helpText() string {
	var b strings.Builder
	b.WriteString("Welcome to the Pepecoin TipBot!\n\n")
	b.WriteString("Available commands:\n")
	b.WriteString("/start - Initialize your account and show available commands\n\n")
	b.WriteString("/tip amount - Tip online lucky users\n")
	b.WriteString("/tip @username amount - Tip users\n")
	b.WriteString("/tip active amount - Tip active users\n\n")
	b.WriteString("/balance - Check your balance\n\n")
	b.WriteString("/deposit - Get your deposit address\n")
	fmt.Fprintf(&b, "/withdraw amount address - Withdraw %s\n\n", s.cfg.CoinSymbol)
	fmt.Fprintf(&b, "/faucet - Request %s per %s\n",
		s.coins(s.engine.FaucetAmount()), humanInterval(s.engine.FaucetInterval()))
	b.WriteString("/faucetinfo - Show faucet deposit address and balance\n")
	fmt.Fprintf(&b, "/active - Show a list of users active in the last %s\n", humanInterval(s.engine.ActiveWindow()))
	b.WriteString("/help - Show help message\n\n")
	b.WriteString("Notes:\n")
	b.WriteString("- /start, /balance, /deposit, /withdraw, and /help are private-only\n")
	b.WriteString("- /tip, /faucetinfo, and /active are group-only; /faucet works in both\n")
	fmt.Fprintf(&b, "- Withdrawals incur a %s fee\n", s.coins(s.engine.Fee()))
	fmt.Fprintf(&b, "- Deposits require %d confirmations\n", s.cfg.MinConfirmations)
	return b.String()
}

// render maps an operation error to reply text. Business rejections come
// back with a nil error; anything else is logged and returned.
func (s *TipBotService) render(command string, err error) (string, error) {
	var cooldown *store.CooldownError
	var validation *store.ValidationError
	var walletErr *wallet.Error

	switch {
	case errors.As(err, &cooldown):
		return fmt.Sprintf("Faucet available in %d minutes.", int(cooldown.Remaining/time.Minute)), nil
	case errors.As(err, &validation):
		return fmt.Sprintf("Invalid %s: %s", validation.Field, validation.Reason), nil
	case errors.Is(err, store.ErrInsufficientFunds):
		return msgInsufficient, nil
	case errors.Is(err, store.ErrFeeExceedsAmount):
		return fmt.Sprintf("Amount must be > fee (%s)", s.coins(s.engine.Fee())), nil
	case errors.Is(err, store.ErrInvalidAmount):
		return msgInvalidAmount, nil
	case errors.Is(err, engine.ErrNoActiveUsers):
		return msgNoActiveUsers, nil
	case errors.Is(err, store.ErrRecipientNotFound):
		return msgTargetNotFound, nil
	case errors.Is(err, store.ErrAccountNotFound):
		return msgStartFirst, nil
	case errors.As(err, &walletErr) && walletErr.Kind == wallet.KindProtocol:
		return fmt.Sprintf("RPC error: %v", walletErr.Err), nil
	case wallet.IsTransient(err):
		zap.L().Warn("Wallet unavailable", zap.String("command", command), zap.Error(err))
		return msgWalletDown, nil
	}

	zap.L().Error("Command failed", zap.String("command", command), zap.Error(err))
	return msgInternalFailure, err
}
