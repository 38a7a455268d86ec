// Package telegram is the Telegram channel adapter: a thin layer that
// translates updates into engine calls and engine results into chat
// messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"okanassist/internal/assist"
	"okanassist/internal/metrics"
)

// Bot wraps the Telegram long-polling client.
type Bot struct {
	bot     *tele.Bot
	engine  *assist.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	registrations map[int64]*regState
}

// NewBot creates the bot and registers all handlers.
func NewBot(token string, engine *assist.Engine, logger *slog.Logger, m *metrics.Metrics) (*Bot, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 60 * time.Second},
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		bot:           tb,
		engine:        engine,
		logger:        logger.With("component", "telegram"),
		metrics:       m,
		registrations: map[int64]*regState{},
	}
	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/register", b.handleRegister)
	b.bot.Handle("/help", b.handleHelp)
	b.bot.Handle("/balance", b.handleBalance)
	b.bot.Handle("/summary", b.handleSummary)
	b.bot.Handle("/reminders", b.handleReminders)
	b.bot.Handle("/done", b.handleDone)
	b.bot.Handle("/upgrade", b.handleUpgrade)

	b.bot.Handle(tele.OnText, b.handleText)
	b.bot.Handle(tele.OnPhoto, b.handlePhoto)
	b.bot.Handle(tele.OnDocument, b.handleDocument)
}

// StartPolling blocks on the update loop until ctx is cancelled.
func (b *Bot) StartPolling(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.logger.Info("telegram bot polling", "username", b.bot.Me.Username)
	b.bot.Start()
}

// Notify implements assist.Notifier for out-of-band messages such as
// payment confirmations.
func (b *Bot) Notify(telegramID, text string) error {
	chatID, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram id %q: %w", telegramID, err)
	}
	_, err = b.bot.Send(&tele.Chat{ID: chatID}, text)
	return err
}

func senderID(c tele.Context) string {
	return strconv.FormatInt(c.Sender().ID, 10)
}
