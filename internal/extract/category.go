package extract

import (
	"strings"

	"okanassist/internal/repo"
)

// Category fallbacks applied when the model invents a label outside the
// known sets.
const (
	DefaultExpenseCategory = "Shopping"
	DefaultIncomeCategory  = "Other Income"
)

var expenseCategories = map[string]string{
	"food & dining":  "Food & Dining",
	"groceries":      "Groceries",
	"transportation": "Transportation",
	"shopping":       "Shopping",
	"entertainment":  "Entertainment",
	"bills":          "Bills",
	"utilities":      "Utilities",
	"healthcare":     "Healthcare",
	"education":      "Education",
	"travel":         "Travel",
	"housing":        "Housing",
	"subscriptions":  "Subscriptions",
	"personal care":  "Personal Care",
	"other":          "Other",
}

var incomeCategories = map[string]string{
	"salary":       "Salary",
	"freelance":    "Freelance",
	"business":     "Business",
	"investment":   "Investment",
	"gift":         "Gift",
	"refund":       "Refund",
	"other income": "Other Income",
}

// ValidateCategory maps a raw category label to its canonical form,
// falling back to the type's default for anything unrecognized.
func ValidateCategory(raw string, t repo.TransactionType) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if t == repo.TransactionIncome {
		if c, ok := incomeCategories[key]; ok {
			return c
		}
		return DefaultIncomeCategory
	}
	if c, ok := expenseCategories[key]; ok {
		return c
	}
	return DefaultExpenseCategory
}
