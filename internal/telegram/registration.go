package telegram

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"okanassist/internal/assist"
	"okanassist/internal/repo"
)

// regState tracks a multi-message registration conversation per chat.
type regState struct {
	step    regStep
	email   string
	name    string
	started time.Time
}

type regStep int

const (
	regAwaitEmail regStep = iota
	regAwaitName
	regAwaitTimezone
)

// Abandoned conversations expire so a stray later message is not
// swallowed as registration input.
const regStateTTL = 10 * time.Minute

func (b *Bot) handleRegister(c tele.Context) error {
	b.mu.Lock()
	b.registrations[c.Sender().ID] = &regState{step: regAwaitEmail, started: time.Now()}
	b.mu.Unlock()
	return c.Send("Let's get you set up. What's your email address?")
}

// continueRegistration consumes a text message when the sender has a
// registration conversation in flight. Returns false when the message
// belongs to the normal text path.
func (b *Bot) continueRegistration(c tele.Context) (bool, error) {
	senderID := c.Sender().ID

	b.mu.Lock()
	st, ok := b.registrations[senderID]
	if ok && time.Since(st.started) > regStateTTL {
		delete(b.registrations, senderID)
		ok = false
	}
	b.mu.Unlock()
	if !ok {
		return false, nil
	}

	text := strings.TrimSpace(c.Text())
	if strings.EqualFold(text, "/cancel") {
		b.mu.Lock()
		delete(b.registrations, senderID)
		b.mu.Unlock()
		return true, c.Send("Registration cancelled.")
	}

	switch st.step {
	case regAwaitEmail:
		if !strings.Contains(text, "@") {
			return true, c.Send("That doesn't look like an email. Try again, or send /cancel.")
		}
		st.email = strings.ToLower(text)
		st.step = regAwaitName
		return true, c.Send("Got it. What should I call you?")

	case regAwaitName:
		if text == "" {
			return true, c.Send("A name helps me greet you. What should I call you?")
		}
		st.name = text
		st.step = regAwaitTimezone
		return true, c.Send("Last one: what's your timezone? (e.g. America/Sao_Paulo or Europe/Berlin, or \"skip\")")

	case regAwaitTimezone:
		tz := text
		if strings.EqualFold(tz, "skip") {
			tz = ""
		} else if _, err := time.LoadLocation(tz); err != nil {
			return true, c.Send("I don't know that timezone. Try an IANA name like Europe/Berlin, or \"skip\".")
		}
		return true, b.finishRegistration(c, st, tz)
	}
	return true, nil
}

func (b *Bot) finishRegistration(c tele.Context, st *regState, timezone string) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	sender := c.Sender()
	id, err := b.engine.Register(ctx, assist.RegisterRequest{
		TelegramID: senderID(c),
		Email:      st.email,
		Name:       st.name,
		Language:   sender.LanguageCode,
		Timezone:   timezone,
	})

	b.mu.Lock()
	delete(b.registrations, sender.ID)
	b.mu.Unlock()

	if err != nil {
		if errors.Is(err, repo.ErrChannelLinked) {
			return c.Send("That account is already linked to another Telegram user.")
		}
		b.logger.Error("registration failed", "telegram_id", senderID(c), "error", err)
		return c.Send("Registration didn't go through. Please try /register again.")
	}

	return c.Send("Welcome aboard, " + id.Name + "! " + shortWelcome)
}

const shortWelcome = "Send me things like \"spent $12 on lunch\" or \"remind me to pay rent tomorrow\", or a receipt photo. /help shows everything I can do."
