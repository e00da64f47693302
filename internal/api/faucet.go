package api

import (
	"context"
	"fmt"

	"pep-tipbot-go/internal/models"
)

// OnFaucet pays the faucet amount when the cooldown has elapsed.
func (s *TipBotService) OnFaucet(ctx context.Context, user models.ChatUser) (string, error) {
	if _, err := s.ensureUser(ctx, user); err != nil {
		return s.render("faucet", err)
	}
	result, err := s.engine.ClaimFaucet(ctx, user.Id)
	if err != nil {
		return s.render("faucet", err)
	}
	return fmt.Sprintf("You received %s from the faucet!\nNext request available in %s.\n\nYour balance is %s",
		s.coins(result.Amount), humanInterval(s.engine.FaucetInterval()), s.coins(result.NewBalance)), nil
}

// OnFaucetInfo shows where to donate to the faucet and what it has received.
func (s *TipBotService) OnFaucetInfo(ctx context.Context) (string, error) {
	info, err := s.wallet.FaucetInfo(ctx, s.cfg.FaucetLabel, s.cfg.MinConfirmations)
	if err != nil {
		return s.render("faucetinfo", err)
	}
	return fmt.Sprintf("Faucet deposit address: `%s`\nConfirmed balance (approx): %s",
		info.Address, s.coins(info.Received)), nil
}
