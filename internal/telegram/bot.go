// Package telegram serves the chat to Telegram users over long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/ashureev/agribot/internal/dispatch"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is the longest text Telegram accepts in one message,
// counted in UTF-16 code units.
const MaxMessageLength = 4096

// Greeting is sent in reply to /start.
const Greeting = "Hi there, my name is Agribot and I dey for you. Ask me anything about Crop " +
	"Recommendations and Management, Pest and Disease Control, Soil Health Tips, Livestock " +
	"Management, and Sustainable Farming Practices. If you have any other questions or need " +
	"help in other areas, feel free to ask. ps: I can also give you a 5-day weather forecast " +
	"if you ask nicely 😉"

const helpText = "Send me a question, or ask for the weather in a place.\n" +
	"/location <place> sets the place I use when you don't name one.\n" +
	"/reset clears our conversation."

// botAPI is the subset of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Dispatcher runs one exchange for a session.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID, message string) dispatch.Result
}

// Sessions is the session maintenance the bot commands need.
type Sessions interface {
	Logout(ctx context.Context, sessionID string) error
	SetDefaultLocation(ctx context.Context, sessionID, location string) error
}

// Bot relays Telegram messages to the dispatcher.
type Bot struct {
	api        botAPI
	dispatcher Dispatcher
	sessions   Sessions
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New connects to Telegram with token.
func New(token string, d Dispatcher, sessions Sessions, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logger.Info("Telegram bot authorized", "username", api.Self.UserName)
	return newBot(api, d, sessions, logger), nil
}

func newBot(api botAPI, d Dispatcher, sessions Sessions, logger *slog.Logger) *Bot {
	return &Bot{api: api, dispatcher: d, sessions: sessions, logger: logger}
}

// SessionID is the session key for a Telegram chat.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// Run polls for updates until ctx is cancelled. Each message is handled on
// its own goroutine; messages in the same chat queue on the session lock.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Starting Agribot telegram polling")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil {
				continue
			}
			msg := upd.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handle(ctx, msg)
			}()
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sessionID := SessionID(chatID)

	if msg.IsCommand() {
		b.command(ctx, chatID, sessionID, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", "chat_id", chatID, "error", err)
	}

	res := b.dispatcher.Handle(ctx, sessionID, text)
	for _, reply := range res.Replies {
		b.reply(chatID, reply)
	}
}

func (b *Bot) command(ctx context.Context, chatID int64, sessionID string, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(chatID, Greeting)
	case "reset":
		if err := b.sessions.Logout(ctx, sessionID); err != nil {
			b.logger.Error("Failed to reset session", "session_id", sessionID, "error", err)
			b.reply(chatID, "I couldn't clear our conversation. Please try again.")
			return
		}
		b.reply(chatID, "Conversation cleared.")
	case "location":
		place := strings.TrimSpace(msg.CommandArguments())
		if place == "" {
			b.reply(chatID, "Usage: /location <place>")
			return
		}
		if err := b.sessions.SetDefaultLocation(ctx, sessionID, place); err != nil {
			b.logger.Error("Failed to set default location", "session_id", sessionID, "error", err)
			b.reply(chatID, "I couldn't save that location. Please try again.")
			return
		}
		b.reply(chatID, "Default location set to "+place+".")
	default:
		b.reply(chatID, helpText)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	for _, part := range splitMessage(text, MaxMessageLength) {
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			b.logger.Error("Failed to send telegram message", "chat_id", chatID, "error", err)
			return
		}
	}
}

// splitMessage cuts text into parts of at most limit UTF-16 code units,
// preferring to break after a newline. Runes are never split.
func splitMessage(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		n, units := 0, 0
		for n < len(runes) {
			w := runeUnits(runes[n])
			if units+w > limit {
				break
			}
			units += w
			n++
		}
		if n == len(runes) {
			parts = append(parts, string(runes))
			break
		}
		if n == 0 {
			n = 1
		}

		cut := n
		for i := n - 1; i > n/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
