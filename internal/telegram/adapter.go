package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/notify"
	"github.com/user/aicoder/internal/runtime"
	"github.com/user/aicoder/internal/status"
	"github.com/user/aicoder/internal/types"
)

// Bot is the part of the Telegram bot API the adapter uses.
type Bot interface {
	notify.Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Adapter bridges Telegram chats to the gateway. Plain messages start agent
// runs; the run's final status is delivered back to the chat by the
// notification watcher.
type Adapter struct {
	bot     Bot
	gateway *gateway.Gateway
	hub     *status.Hub
	watcher *notify.Watcher
	allowed map[int64]bool
}

// NewBot connects to the Telegram bot API.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

// New creates a Telegram adapter. When allowedChats is non-empty only those
// chats may start runs.
func New(bot Bot, gw *gateway.Gateway, hub *status.Hub, watcher *notify.Watcher, allowedChats ...int64) *Adapter {
	a := &Adapter{
		bot:     bot,
		gateway: gw,
		hub:     hub,
		watcher: watcher,
		allowed: make(map[int64]bool),
	}
	for _, id := range allowedChats {
		a.allowed[id] = true
	}
	return a
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if len(a.allowed) > 0 && !a.allowed[chatID] {
		slog.Warn("telegram message from unknown chat", "chat_id", chatID)
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	a.submit(ctx, chatID, msg.Text)
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		a.reply(chatID, "Send me a task and I will build it. Commands: /agent <task>, /status")

	case "agent":
		a.submit(ctx, chatID, msg.CommandArguments())

	case "status":
		rec, ok := a.hub.Latest(types.RunID(strings.TrimSpace(msg.CommandArguments())))
		if !ok {
			a.reply(chatID, "No status information available")
			return
		}
		a.reply(chatID, fmt.Sprintf("Run %s: %s\n%s", rec.SessionID.Short(), rec.Status, rec.Message))

	default:
		a.reply(chatID, "Unknown command. Available: /start, /agent, /status")
	}
}

func (a *Adapter) submit(ctx context.Context, chatID int64, prompt string) {
	run, err := a.gateway.Submit(ctx, gateway.Request{
		Prompt: prompt,
		Lane:   notify.TelegramTarget(chatID),
	})
	if err != nil {
		if errors.Is(err, runtime.ErrPromptRequired) {
			a.reply(chatID, "Prompt is required")
			return
		}
		slog.Error("telegram submit failed", "chat_id", chatID, "error", err)
		a.reply(chatID, "Sorry, I could not start that run.")
		return
	}
	if a.watcher != nil {
		a.watcher.Route(run.ID, notify.TelegramTarget(chatID))
	}
	a.reply(chatID, fmt.Sprintf("Run %s queued", run.ID.Short()))
}

func (a *Adapter) reply(chatID int64, text string) {
	if err := notify.SendText(a.bot, chatID, text); err != nil {
		slog.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}
