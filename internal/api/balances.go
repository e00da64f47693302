package api

import (
	"context"
	"fmt"
	"strings"

	"pep-tipbot-go/internal/models"
)

func (s *TipBotService) OnBalance(ctx context.Context, user models.ChatUser) (string, error) {
	account, err := s.ensureUser(ctx, user)
	if err != nil {
		return s.render("balance", err)
	}
	return fmt.Sprintf("Your balance is %s", s.coins(account.Balance)), nil
}

// OnActive lists the usernames of recently active users, most recent first.
func (s *TipBotService) OnActive(ctx context.Context) (string, error) {
	accounts, err := s.engine.ActiveAccounts(ctx)
	if err != nil {
		return s.render("active", err)
	}

	window := humanInterval(s.engine.ActiveWindow())
	names := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if account.Username == "" {
			continue
		}
		names = append(names, "@"+account.Username)
		if len(names) == s.cfg.MaxActiveListed {
			break
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("No active users in the last %s.", window), nil
	}
	return fmt.Sprintf("Active users (last %s):\n%s", window, strings.Join(names, ", ")), nil
}
