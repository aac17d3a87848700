package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// CurrencyExponent is the number of minor-unit digits of an ISO 4217
// currency. West and Central African CFA francs have none.
func CurrencyExponent(currency string) int {
	switch strings.ToUpper(currency) {
	case "XOF", "XAF", "GNF", "JPY", "KRW":
		return 0
	default:
		return 2
	}
}

// ParseAmount converts a decimal string such as "1500" or "12.50" into minor
// units of currency. Extra fractional digits beyond the exponent are rejected
// unless they are zeros.
func ParseAmount(raw, currency string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative %q", ErrInvalidAmount, raw)
	}
	exp := CurrencyExponent(currency)

	whole, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")
	if len(frac) > exp {
		return 0, fmt.Errorf("%w: %q has more than %d decimals for %s", ErrInvalidAmount, raw, exp, currency)
	}
	frac += strings.Repeat("0", exp-len(frac))
	if whole == "" {
		whole = "0"
	}

	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return n, nil
}

// FormatAmount renders minor units for customer-facing text, e.g.
// "5000 XOF" or "12.50 EUR".
func FormatAmount(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	if exp == 0 {
		return fmt.Sprintf("%d %s", minor, strings.ToUpper(currency))
	}
	div := int64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	return fmt.Sprintf("%d.%0*d %s", minor/div, exp, minor%div, strings.ToUpper(currency))
}
