package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramPrefix routes notifications to a Telegram chat: "telegram:<chat id>".
const TelegramPrefix = "telegram:"

const maxTelegramMessage = 4096

// Sender is the part of the Telegram bot API used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramHandler returns a Handler that sends messages through bot.
func TelegramHandler(bot Sender) Handler {
	return func(_ context.Context, target, message string) error {
		chatID, err := ParseChatID(target)
		if err != nil {
			return err
		}
		return SendText(bot, chatID, message)
	}
}

// TelegramTarget builds the delivery target of a chat.
func TelegramTarget(chatID int64) string {
	return TelegramPrefix + strconv.FormatInt(chatID, 10)
}

// ParseChatID extracts the chat id from a "telegram:<chat id>" target.
func ParseChatID(target string) (int64, error) {
	raw, ok := strings.CutPrefix(target, TelegramPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", raw, err)
	}
	return id, nil
}

// SendText sends text to chatID, split into Telegram-sized parts. Each part
// is tried as Markdown first and resent as plain text if Telegram rejects it.
func SendText(bot Sender, chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := bot.Send(msg); err != nil {
			slog.Debug("markdown send failed, retrying as plain text", "chat_id", chatID, "error", err)
			msg.ParseMode = ""
			if _, err := bot.Send(msg); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
