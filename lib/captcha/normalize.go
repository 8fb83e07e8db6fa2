package captcha

import (
	"strings"
	"unicode"
)

var spokenDigits = map[string]string{
	"zero":  "0",
	"oh":    "0",
	"one":   "1",
	"two":   "2",
	"three": "3",
	"four":  "4",
	"five":  "5",
	"six":   "6",
	"seven": "7",
	"eight": "8",
	"nine":  "9",
}

// NormalizeTranscript maps a raw speech transcript onto the answer
// alphabet the widget expects: lowercase, no whitespace or punctuation,
// spoken digit words collapsed to digits. the recognizer tends to emit
// either digits separated by spaces ("4 7 2 9") or number words
// ("four seven two nine"), both normalize to "4729".
func NormalizeTranscript(raw string) string {
	var b strings.Builder
	for _, field := range strings.Fields(strings.ToLower(raw)) {
		field = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, field)
		if field == "" {
			continue
		}
		if digit, ok := spokenDigits[field]; ok {
			b.WriteString(digit)
			continue
		}
		b.WriteString(field)
	}
	return b.String()
}
