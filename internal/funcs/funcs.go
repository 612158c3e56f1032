package funcs

import (
	"text/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var TemplateFuncs = template.FuncMap{
	"formatCents": FormatCents,
	"formatTime":  FormatTime,
}

// FormatCents renders an amount held in cents as a human readable euro value,
// e.g. 123456 -> "1,234.56 EUR".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return printer.Sprintf("%s%d.%02d EUR", sign, cents/100, cents%100)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}
