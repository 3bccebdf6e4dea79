package dispatch

import "strings"

// NormalizePhone converts a phone number to E.164. Non-digits are stripped,
// 10-digit numbers are treated as US numbers, and everything else gets a
// leading "+". It returns "" when the input has no digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	default:
		// 11 digits with a leading 1 already carry the US country code
		return "+" + digits
	}
}
