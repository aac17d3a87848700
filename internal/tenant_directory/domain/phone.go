package domain

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone returns the E.164 form of phone. It accepts a leading "+" or
// "00", common separators, and WhatsApp chat suffixes such as "@c.us".
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	if at := strings.IndexByte(p, '@'); at >= 0 {
		p = p[:at]
	}

	var b strings.Builder
	b.Grow(len(p) + 1)
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}

	digits := b.String()
	if !strings.HasPrefix(p, "+") {
		digits = strings.TrimPrefix(digits, "00")
	}
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", ErrInvalidPhone
	}
	return "+" + digits, nil
}
