package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.Spanish)

// FormatAmount renders a base-currency amount for human-facing messages
// (problem details, audit notes). Persistence always stores raw numbers.
func FormatAmount(amount float64) string {
	return moneyPrinter.Sprintf("%.2f", amount)
}
