package assist

import (
	"fmt"
	"strings"
	"time"

	"okanassist/internal/repo"
)

const registerPrompt = `Welcome to OkanAssist! I track your expenses, income and reminders from plain messages.

You're not registered yet. Send /register to link your account, or just reply with your email address to get started.`

const shortHelp = `Tell me about a purchase ("spent $12 on lunch"), send a receipt photo, or ask me to remind you about something.`

// Help is the full command reference shown by /help and the help endpoint.
func Help() string {
	return `OkanAssist commands:
/start - greet and check your account
/register - link or create your account
/balance - show remaining credits
/summary - last 30 days of spending
/reminders - list open reminders
/done <id> - mark a reminder complete
/upgrade - go premium, unlimited credits
/help - this message

Or just talk to me:
- "spent $12.50 on lunch at Subway"
- "received salary 3000"
- "remind me to pay rent tomorrow at 9am"
- send a receipt photo (5 credits)
- send a bank statement PDF (free)`
}

func describeTransaction(t *repo.Transaction, currency string) string {
	verb := "Expense"
	if t.Type == repo.TransactionIncome {
		verb = "Income"
	}
	b := fmt.Sprintf("%s recorded: %s %s, %s", verb, t.Amount.StringFixed(2), currency, t.Category)
	if t.Merchant != nil && *t.Merchant != "" {
		b += " at " + *t.Merchant
	}
	return b + "."
}

func describeReminder(r *repo.Reminder, timezone string, tzWarn bool) string {
	msg := fmt.Sprintf("Reminder saved: %s", r.Title)
	if r.DueAt != nil {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			loc = time.UTC
		}
		msg += " (due " + r.DueAt.In(loc).Format("Mon, 2 Jan 15:04") + ")"
	}
	if tzWarn {
		msg += "\nHeads up: I don't recognize your timezone, so I scheduled this in UTC."
	}
	return msg + "."
}

func describeSummary(s *repo.TransactionSummary, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d days:\n", s.PeriodDays)
	fmt.Fprintf(&b, "Income: %s %s (%d)\n", s.TotalIncome.StringFixed(2), currency, s.IncomeCount)
	fmt.Fprintf(&b, "Expenses: %s %s (%d)\n", s.TotalExpenses.StringFixed(2), currency, s.ExpenseCount)
	fmt.Fprintf(&b, "Net: %s %s", s.NetFlow().StringFixed(2), currency)
	if len(s.ExpenseCategories) > 0 {
		b.WriteString("\nTop categories:")
		for _, c := range s.ExpenseCategories {
			fmt.Fprintf(&b, "\n- %s: %s", c.Category, c.Total.StringFixed(2))
		}
	}
	return b.String()
}
