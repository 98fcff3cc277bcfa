package funcs

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// TemplateFuncs is shared by the text and html email templates.
var TemplateFuncs = map[string]any{
	"cents":      Cents,
	"formatTime": formatTime,
	"join":       strings.Join,
	"toUpper":    strings.ToUpper,
}

// Cents renders an amount held in cents as a dollar figure with grouping, e.g. 250000 -> $2,500.00.
func Cents(amount any) string {
	var v int64
	switch n := amount.(type) {
	case int64:
		v = n
	case int:
		v = int64(n)
	case int32:
		v = int64(n)
	default:
		return fmt.Sprintf("%v", amount)
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	return sign + printer.Sprintf("$%d.%02d", v/100, v%100)
}

func formatTime(format string, t time.Time) string {
	return t.Format(format)
}
