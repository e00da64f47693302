package telegram

import (
	"context"
	"fmt"
	"strconv"

	"pep-tipbot-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Commands is the command surface the transport dispatches to.
type Commands interface {
	OnStart(ctx context.Context, user models.ChatUser) (string, error)
	OnHelp() string
	OnDeposit(ctx context.Context, user models.ChatUser) (string, error)
	OnBalance(ctx context.Context, user models.ChatUser) (string, error)
	OnWithdraw(ctx context.Context, user models.ChatUser, args string) (string, error)
	OnTip(ctx context.Context, user models.ChatUser, args string) (string, error)
	OnFaucet(ctx context.Context, user models.ChatUser) (string, error)
	OnFaucetInfo(ctx context.Context) (string, error)
	OnActive(ctx context.Context) (string, error)
	OnActivity(ctx context.Context, user models.ChatUser) error
}

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type scope int

const (
	privateOnly scope = iota
	groupOnly
	anyChat
)

type route struct {
	scope    scope
	markdown bool
	handle   func(ctx context.Context, user models.ChatUser, args string) (string, error)
}

// Bot long-polls Telegram and replies to commands. It also implements the
// reconciler's Notifier by messaging users privately.
type Bot struct {
	api         botAPI
	commands    Commands
	pollTimeout int
	workers     int
	routes      map[string]route
}

func NewBot(cfg models.TelegramConfig, commands Commands) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot initialization failed: %w", err)
	}
	api.Debug = cfg.Debug
	zap.L().Info("Bot authorized", zap.String("username", api.Self.UserName))
	return newBot(api, commands, cfg.PollTimeout), nil
}

func newBot(api botAPI, commands Commands, pollTimeout int) *Bot {
	b := &Bot{
		api:         api,
		commands:    commands,
		pollTimeout: pollTimeout,
		workers:     8,
	}
	noArgs := func(fn func(context.Context, models.ChatUser) (string, error)) func(context.Context, models.ChatUser, string) (string, error) {
		return func(ctx context.Context, user models.ChatUser, _ string) (string, error) {
			return fn(ctx, user)
		}
	}
	b.routes = map[string]route{
		"start":    {scope: privateOnly, markdown: true, handle: noArgs(commands.OnStart)},
		"help":     {scope: privateOnly, handle: func(context.Context, models.ChatUser, string) (string, error) { return commands.OnHelp(), nil }},
		"deposit":  {scope: privateOnly, markdown: true, handle: noArgs(commands.OnDeposit)},
		"balance":  {scope: privateOnly, handle: noArgs(commands.OnBalance)},
		"withdraw": {scope: privateOnly, markdown: true, handle: commands.OnWithdraw},
		"tip":      {scope: groupOnly, handle: commands.OnTip},
		"faucet":   {scope: anyChat, handle: noArgs(commands.OnFaucet)},
		"faucetinfo": {scope: groupOnly, markdown: true, handle: func(ctx context.Context, _ models.ChatUser, _ string) (string, error) {
			return commands.OnFaucetInfo(ctx)
		}},
		"active": {scope: groupOnly, handle: func(ctx context.Context, _ models.ChatUser, _ string) (string, error) {
			return commands.OnActive(ctx)
		}},
	}
	return b
}

// Run polls for updates until ctx is canceled, then waits for in-flight
// handlers.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	u.AllowedUpdates = []string{"message"}

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	var g errgroup.Group
	g.SetLimit(b.workers)

	zap.L().Info("Bot is running")
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				b.HandleUpdate(ctx, update)
				return nil
			})
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil || message.From.IsBot || message.Chat == nil {
		return
	}

	user := models.ChatUser{
		Id:       strconv.FormatInt(message.From.ID, 10),
		Username: message.From.UserName,
	}
	group := message.Chat.IsGroup() || message.Chat.IsSuperGroup()

	if !message.IsCommand() {
		if group {
			_ = b.commands.OnActivity(ctx, user)
		}
		return
	}

	command := message.Command()
	r, ok := b.routes[command]
	if !ok {
		return
	}

	switch {
	case r.scope == privateOnly && !message.Chat.IsPrivate():
		return
	case r.scope == groupOnly && !group:
		if command == "tip" {
			b.reply(message, "Use /tip in a group chat.", false)
		}
		return
	}

	ctx = models.WithRequestContext(ctx, &models.RequestContext{
		RequestId: uuid.New().String(),
		UserId:    user.Id,
		Command:   command,
	})

	text, err := r.handle(ctx, user, message.CommandArguments())
	if err != nil {
		zap.L().With(models.LogFields(ctx)...).Error("Command failed", zap.Error(err))
	}
	if text != "" {
		b.reply(message, text, r.markdown)
	}
}

func (b *Bot) reply(to *tgbotapi.Message, text string, markdown bool) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	_, err := b.api.Send(msg)
	if err != nil && markdown {
		// Retry unformatted; wallet error text can break Markdown entities.
		msg.ParseMode = ""
		_, err = b.api.Send(msg)
	}
	if err != nil {
		zap.L().Warn("Failed to send reply",
			zap.Int64("chat_id", to.Chat.ID),
			zap.Error(err))
	}
}

// Notify sends a private message to the user behind accountId, which is the
// Telegram user id.
func (b *Bot) Notify(ctx context.Context, accountId, text string) error {
	chatId, err := strconv.ParseInt(accountId, 10, 64)
	if err != nil {
		return fmt.Errorf("account %q is not a telegram user id: %w", accountId, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatId, text)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", accountId, err)
	}
	return nil
}
