package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"okanassist/internal/assist"
	"okanassist/internal/identity"
)

const handlerTimeout = 60 * time.Second

func (b *Bot) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// reply sends the engine outcome, translating typed failures into chat
// guidance instead of surfacing raw errors.
func (b *Bot) reply(c tele.Context, err error) error {
	var ce *assist.CreditError
	switch {
	case errors.Is(err, identity.ErrMustRegister), errors.Is(err, identity.ErrLinkFailed):
		return c.Send("You're not registered yet. Send /register to link your account.")
	case errors.As(err, &ce):
		return c.Send(fmt.Sprintf(
			"You're out of credits (need %d, have %d). Credits refill monthly, or go unlimited with /upgrade.",
			ce.Needed, ce.Available))
	default:
		b.logger.Error("handler failed", "error", err)
		return c.Send("Something went wrong on my side. Please try again in a moment.")
	}
}

func (b *Bot) handleStart(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	// A deep link (t.me/<bot>?start=<user id>) carries the account the
	// sender claims; linking it is idempotent.
	claimed := strings.TrimSpace(c.Message().Payload)

	out, err := b.engine.Start(ctx, senderID(c), claimed)
	if err != nil {
		if errors.Is(err, identity.ErrLinkFailed) {
			return c.Send("I couldn't link that account. Send /register to set one up.")
		}
		return b.reply(c, err)
	}
	return c.Send(out.Greeting)
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(assist.Help())
}

func (b *Bot) handleBalance(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	st, err := b.engine.CreditStatus(ctx, senderID(c))
	if err != nil {
		return b.reply(c, err)
	}
	if st.IsPremium {
		return c.Send("You're premium: unlimited credits.")
	}
	return c.Send(fmt.Sprintf("You have %d credits left. They reset on %s.",
		st.Credits, st.CreditsResetDate.Format("2 Jan 2006")))
}

func (b *Bot) handleSummary(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	out, err := b.engine.RouteMessage(ctx, senderID(c), "show my spending summary", "telegram")
	if err != nil {
		return b.reply(c, err)
	}
	return c.Send(out.Message)
}

func (b *Bot) handleReminders(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	reminders, err := b.engine.Reminders(ctx, senderID(c), false)
	if err != nil {
		return b.reply(c, err)
	}
	if len(reminders) == 0 {
		return c.Send("No open reminders.")
	}

	var sb strings.Builder
	sb.WriteString("Open reminders:\n")
	for _, r := range reminders {
		fmt.Fprintf(&sb, "#%d %s", r.ID, r.Title)
		if r.DueAt != nil {
			fmt.Fprintf(&sb, " (due %s)", r.DueAt.Format("2 Jan 15:04 MST"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Mark one done with /done <id>.")
	return c.Send(sb.String())
}

func (b *Bot) handleDone(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
	if err != nil {
		return c.Send("Usage: /done <reminder id>")
	}
	done, err := b.engine.CompleteReminder(ctx, senderID(c), id)
	if err != nil {
		return b.reply(c, err)
	}
	if !done {
		return c.Send("I couldn't find that reminder.")
	}
	return c.Send("Done. Nice work!")
}

func (b *Bot) handleUpgrade(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	out, err := b.engine.Upgrade(ctx, senderID(c))
	if err != nil {
		if errors.Is(err, identity.ErrMustRegister) || errors.Is(err, identity.ErrLinkFailed) {
			return b.reply(c, err)
		}
		if strings.Contains(err.Error(), "already premium") {
			return c.Send("You're already premium. Enjoy!")
		}
		return b.reply(c, err)
	}
	return c.Send(fmt.Sprintf("Premium is %s %s/month, unlimited credits.\nComplete your upgrade here:\n%s",
		out.Price, out.Currency, out.CheckoutURL))
}

func (b *Bot) handleText(c tele.Context) error {
	// An in-flight registration conversation owns plain text.
	if handled, err := b.continueRegistration(c); handled {
		return err
	}

	ctx, cancel := b.withTimeout()
	defer cancel()

	out, err := b.engine.RouteMessage(ctx, senderID(c), c.Text(), "telegram")
	if err != nil {
		return b.reply(c, err)
	}

	msg := out.Message
	if out.LowBalance {
		msg += fmt.Sprintf("\n\nOnly %d credits left. /upgrade for unlimited.", out.CreditsRemaining)
	}
	return c.Send(msg)
}

func (b *Bot) handlePhoto(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	photo := c.Message().Photo
	if photo == nil {
		return nil
	}
	data, err := b.download(&photo.File)
	if err != nil {
		b.logger.Error("photo download failed", "error", err)
		return c.Send("I couldn't download that photo. Please try again.")
	}

	out, err := b.engine.ProcessReceipt(ctx, senderID(c), data, "image/jpeg", "telegram")
	if err != nil {
		return b.reply(c, err)
	}
	msg := out.Message
	if out.LowBalance {
		msg += fmt.Sprintf("\n\nOnly %d credits left. /upgrade for unlimited.", out.CreditsRemaining)
	}
	return c.Send(msg)
}

func (b *Bot) handleDocument(c tele.Context) error {
	ctx, cancel := b.withTimeout()
	defer cancel()

	doc := c.Message().Document
	if doc == nil {
		return nil
	}
	data, err := b.download(&doc.File)
	if err != nil {
		b.logger.Error("document download failed", "error", err)
		return c.Send("I couldn't download that document. Please try again.")
	}

	mime := doc.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}

	// Images travel the receipt path; everything else is treated as a
	// bank statement.
	var out *assist.BatchResult
	if strings.HasPrefix(mime, "image/") {
		out, err = b.engine.ProcessReceipt(ctx, senderID(c), data, mime, "telegram")
	} else {
		out, err = b.engine.ProcessStatement(ctx, senderID(c), data, mime, "telegram")
	}
	if err != nil {
		return b.reply(c, err)
	}
	return c.Send(out.Message)
}

func (b *Bot) download(file *tele.File) ([]byte, error) {
	rc, err := b.bot.File(file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 16<<20))
}
