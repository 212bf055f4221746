// Package money handles two-decimal BRL amounts as integer cents.
// Parsing accepts both Brazilian ("1.234,56") and dotted ("1234.56") input
// since funnel values arrive as free-form dashboard strings.
package money

import (
	"fmt"
	"strings"
)

// Cents is a BRL amount in integer cents.
type Cents int64

// ParseBRL parses a display amount like "97,00", "R$ 97,00", "97.00" or
// "1.234,56" into cents. The currency symbol and surrounding whitespace are
// ignored. Returns an error for empty or non-numeric input; range checks are
// the caller's concern.
func ParseBRL(s string) (Cents, error) {
	orig := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimPrefix(s, "r$")
	s = strings.TrimSpace(s)

	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	intPart, fracPart, err := splitAmount(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", orig, err)
	}

	var cents Cents
	for _, r := range intPart {
		cents = cents*10 + Cents(r-'0')
	}
	cents *= 100

	switch len(fracPart) {
	case 0:
	case 1:
		cents += Cents(fracPart[0]-'0') * 10
	case 2:
		cents += Cents(fracPart[0]-'0')*10 + Cents(fracPart[1]-'0')
	default:
		return 0, fmt.Errorf("invalid amount %q: too many decimal digits", orig)
	}

	if negative {
		cents = -cents
	}
	return cents, nil
}

// splitAmount separates integer and fractional digits. The last separator is
// the decimal mark when it is followed by at most two digits; every other
// separator is treated as a thousands mark and dropped.
func splitAmount(s string) (intPart, fracPart string, err error) {
	lastSep := -1
	for i, r := range s {
		if r == ',' || r == '.' {
			lastSep = i
		} else if r < '0' || r > '9' {
			return "", "", fmt.Errorf("unexpected character %q", r)
		}
	}

	if lastSep >= 0 && len(s)-lastSep-1 <= 2 {
		intPart = s[:lastSep]
		fracPart = s[lastSep+1:]
	} else {
		intPart = s
	}

	intPart = strings.Map(func(r rune) rune {
		if r == ',' || r == '.' {
			return -1
		}
		return r
	}, intPart)

	if intPart == "" && fracPart == "" {
		return "", "", fmt.Errorf("no digits")
	}
	if strings.ContainsAny(fracPart, ",.") {
		return "", "", fmt.Errorf("malformed decimals")
	}
	if intPart == "" {
		intPart = "0"
	}
	return intPart, fracPart, nil
}

// Format renders cents as a Brazilian display amount: comma decimal mark,
// dot thousands separators, always two decimals. Format(9700) == "97,00".
func (c Cents) Format() string {
	neg := c < 0
	if neg {
		c = -c
	}

	whole := int64(c) / 100
	frac := int64(c) % 100

	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return fmt.Sprintf("%s,%02d", b.String(), frac)
}

// FormatBRL is Format with the currency symbol: "R$ 97,00".
func (c Cents) FormatBRL() string {
	return "R$ " + c.Format()
}
