package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pep-tipbot-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	sendErr func(tgbotapi.MessageConfig) error
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(msg); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type call struct {
	name string
	user models.ChatUser
	args string
}

type fakeCommands struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeCommands) record(name string, user models.ChatUser, args string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, user: user, args: args})
	return name + " reply", f.err
}

func (f *fakeCommands) OnStart(_ context.Context, u models.ChatUser) (string, error) {
	return f.record("start", u, "")
}
func (f *fakeCommands) OnHelp() string {
	text, _ := f.record("help", models.ChatUser{}, "")
	return text
}
func (f *fakeCommands) OnDeposit(_ context.Context, u models.ChatUser) (string, error) {
	return f.record("deposit", u, "")
}
func (f *fakeCommands) OnBalance(_ context.Context, u models.ChatUser) (string, error) {
	return f.record("balance", u, "")
}
func (f *fakeCommands) OnWithdraw(_ context.Context, u models.ChatUser, args string) (string, error) {
	return f.record("withdraw", u, args)
}
func (f *fakeCommands) OnTip(_ context.Context, u models.ChatUser, args string) (string, error) {
	return f.record("tip", u, args)
}
func (f *fakeCommands) OnFaucet(_ context.Context, u models.ChatUser) (string, error) {
	return f.record("faucet", u, "")
}
func (f *fakeCommands) OnFaucetInfo(context.Context) (string, error) {
	return f.record("faucetinfo", models.ChatUser{}, "")
}
func (f *fakeCommands) OnActive(context.Context) (string, error) {
	return f.record("active", models.ChatUser{}, "")
}
func (f *fakeCommands) OnActivity(_ context.Context, u models.ChatUser) error {
	_, err := f.record("activity", u, "")
	return err
}

func (f *fakeCommands) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c.name)
	}
	return names
}

func message(chatType, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 4242, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: chatType},
		Text:      text,
	}
	if chatType == "private" {
		msg.Chat.ID = 4242
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func newTestBot() (*Bot, *fakeAPI, *fakeCommands) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	commands := &fakeCommands{}
	return newBot(api, commands, 1), api, commands
}

func TestHandleUpdate_ChatScopes(t *testing.T) {
	tests := []struct {
		chatType string
		text     string
		want     []string
	}{
		{"private", "/start", []string{"start"}},
		{"group", "/start", nil},
		{"private", "/help", []string{"help"}},
		{"private", "/deposit", []string{"deposit"}},
		{"supergroup", "/balance", nil},
		{"private", "/withdraw 5 PAddr", []string{"withdraw"}},
		{"group", "/withdraw 5 PAddr", nil},
		{"group", "/tip @bob 1", []string{"tip"}},
		{"supergroup", "/tip 1", []string{"tip"}},
		{"private", "/tip 1", nil},
		{"private", "/faucet", []string{"faucet"}},
		{"group", "/faucet", []string{"faucet"}},
		{"group", "/faucetinfo", []string{"faucetinfo"}},
		{"private", "/faucetinfo", nil},
		{"group", "/active", []string{"active"}},
		{"private", "/active", nil},
		{"group", "/unknown", nil},
		{"group", "hello there", []string{"activity"}},
		{"private", "hello there", nil},
	}

	for _, tt := range tests {
		t.Run(tt.chatType+" "+tt.text, func(t *testing.T) {
			bot, _, commands := newTestBot()
			bot.HandleUpdate(context.Background(), message(tt.chatType, tt.text))
			assert.Equal(t, tt.want, commands.names())
		})
	}
}

func TestHandleUpdate_RepliesAndArguments(t *testing.T) {
	bot, api, commands := newTestBot()

	bot.HandleUpdate(context.Background(), message("group", "/tip@pep_tipbot active 2.5"))
	require.Len(t, commands.calls, 1)
	assert.Equal(t, "active 2.5", commands.calls[0].args)
	assert.Equal(t, models.ChatUser{Id: "4242", Username: "alice"}, commands.calls[0].user)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].ChatID)
	assert.Equal(t, "tip reply", sent[0].Text)
	assert.Empty(t, sent[0].ParseMode)

	bot.HandleUpdate(context.Background(), message("private", "/deposit"))
	sent = api.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, tgbotapi.ModeMarkdown, sent[1].ParseMode)
}

func TestHandleUpdate_TipOutsideGroup(t *testing.T) {
	bot, api, commands := newTestBot()
	bot.HandleUpdate(context.Background(), message("private", "/tip 1"))

	assert.Empty(t, commands.calls)
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Use /tip in a group chat.", sent[0].Text)
}

func TestHandleUpdate_IgnoresBots(t *testing.T) {
	bot, _, commands := newTestBot()
	update := message("group", "/tip 1")
	update.Message.From.IsBot = true
	bot.HandleUpdate(context.Background(), update)
	bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	assert.Empty(t, commands.calls)
}

func TestHandleUpdate_MarkdownFallback(t *testing.T) {
	bot, api, _ := newTestBot()
	api.sendErr = func(msg tgbotapi.MessageConfig) error {
		if msg.ParseMode != "" {
			return errors.New("Bad Request: can't parse entities")
		}
		return nil
	}

	bot.HandleUpdate(context.Background(), message("private", "/withdraw 5 bad_addr"))
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].ParseMode)
}

func TestHandleUpdate_ErrorStillReplies(t *testing.T) {
	bot, api, commands := newTestBot()
	commands.err = errors.New("database is locked")

	bot.HandleUpdate(context.Background(), message("private", "/balance"))
	require.Len(t, api.messages(), 1)
}

func TestNotify(t *testing.T) {
	bot, api, _ := newTestBot()

	require.NoError(t, bot.Notify(context.Background(), "4242", "Deposit confirmed: 5 PEP"))
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(4242), sent[0].ChatID)
	assert.Equal(t, "Deposit confirmed: 5 PEP", sent[0].Text)

	require.Error(t, bot.Notify(context.Background(), "not-a-number", "x"))

	api.sendErr = func(tgbotapi.MessageConfig) error { return errors.New("Forbidden: bot was blocked by the user") }
	require.Error(t, bot.Notify(context.Background(), "4242", "x"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	bot, api, commands := newTestBot()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	api.updates <- message("group", "/active")
	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"active"}, commands.names())
	assert.True(t, api.stopped)
}
