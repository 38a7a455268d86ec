package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"okanassist/internal/repo"
)

// Keyword parsing used when the model is unreachable or returns garbage.
// Deliberately conservative: low confidence, and nothing is guessed when
// no amount or reminder verb is present.

var amountRe = regexp.MustCompile(`(?:\$|€|£|R\$|Rp)?\s*(\d+(?:[.,]\d{3})*(?:[.,]\d{1,2})?)\b`)

var expenseKeywords = []string{
	"spent", "paid", "bought", "purchase", "purchased", "cost", "bill",
	"ordered", "subscription",
}

var incomeKeywords = []string{
	"received", "earned", "salary", "paycheck", "got paid", "refund",
	"sold", "income",
}

var reminderKeywords = []string{
	"remind", "reminder", "don't forget", "dont forget", "due", "deadline",
	"appointment", "meeting",
}

var categoryHints = []struct {
	keyword  string
	category string
}{
	{"grocer", "Groceries"},
	{"restaurant", "Food & Dining"},
	{"lunch", "Food & Dining"},
	{"dinner", "Food & Dining"},
	{"coffee", "Food & Dining"},
	{"uber", "Transportation"},
	{"taxi", "Transportation"},
	{"gas", "Transportation"},
	{"fuel", "Transportation"},
	{"rent", "Housing"},
	{"electric", "Utilities"},
	{"internet", "Bills"},
	{"netflix", "Subscriptions"},
	{"spotify", "Subscriptions"},
	{"pharmacy", "Healthcare"},
	{"doctor", "Healthcare"},
	{"movie", "Entertainment"},
	{"salary", "Salary"},
}

// fallbackConfidence marks heuristically parsed results so downstream
// consumers can see the model was not involved.
const fallbackConfidence = 0.4

// FallbackMessage is the deterministic stand-in for model-based message
// extraction. Returns ErrNoData when the text carries no usable signal.
func FallbackMessage(text string) (*MessageExtraction, error) {
	lower := strings.ToLower(text)

	if containsAny(lower, reminderKeywords) {
		return &MessageExtraction{
			Intent:   IntentReminder,
			Reminder: fallbackReminder(text, lower),
		}, nil
	}

	if txn := fallbackTransaction(text, lower); txn != nil {
		return &MessageExtraction{Intent: IntentTransaction, Transaction: txn}, nil
	}
	return nil, ErrNoData
}

func fallbackTransaction(text, lower string) *TransactionCandidate {
	m := amountRe.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	amount, err := decimal.NewFromString(normalizeAmount(m[1]))
	if err != nil || amount.IsZero() {
		return nil
	}

	txType := repo.TransactionExpense
	if containsAny(lower, incomeKeywords) && !containsAny(lower, expenseKeywords) {
		txType = repo.TransactionIncome
	}

	category := ""
	for _, hint := range categoryHints {
		if strings.Contains(lower, hint.keyword) {
			category = hint.category
			break
		}
	}

	return &TransactionCandidate{
		Type:        txType,
		Amount:      amount,
		Description: strings.TrimSpace(text),
		Category:    ValidateCategory(category, txType),
		Confidence:  fallbackConfidence,
	}
}

func fallbackReminder(text, lower string) *ReminderCandidate {
	title := strings.TrimSpace(text)
	// Strip the leading verb so "remind me to pay rent" titles as
	// "pay rent".
	for _, prefix := range []string{"remind me to ", "remind me ", "reminder to ", "reminder: "} {
		if strings.HasPrefix(lower, prefix) {
			title = strings.TrimSpace(text[len(prefix):])
			break
		}
	}

	return &ReminderCandidate{
		Title:    title,
		Type:     repo.ReminderGeneral,
		Priority: repo.PriorityMedium,
		DueText:  text,
	}
}

// normalizeAmount reduces locale-formatted numbers to a plain decimal
// string: "1.234,56" and "1,234.56" both become "1234.56".
func normalizeAmount(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma > lastDot:
		// A lone comma followed by three digits reads as a thousands
		// separator, not a decimal point.
		if lastDot == -1 && strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
			break
		}
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
