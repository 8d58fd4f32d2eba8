package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var digitsRe = regexp.MustCompile(`^[0-9]{6,15}$`)

// NormalizePhone converts a raw phone number into the +<digits> form the
// telephony provider expects. Separators and parentheses are stripped; a bare
// national number gets the defaultRegion prefix (e.g. "91").
func NormalizePhone(raw, defaultRegion string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty phone number")
	}

	hasPlus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			// separators and the leading plus are dropped
		default:
			return "", fmt.Errorf("unexpected character %q in phone number %q", r, raw)
		}
	}
	digits := b.String()

	// "00" international dialing prefix is equivalent to a leading plus.
	if !hasPlus && strings.HasPrefix(digits, "00") {
		hasPlus = true
		digits = digits[2:]
	}

	if !hasPlus && defaultRegion != "" {
		digits = defaultRegion + digits
	}

	if !digitsRe.MatchString(digits) {
		return "", fmt.Errorf("unable to parse phone number: %q", raw)
	}

	return "+" + digits, nil
}
