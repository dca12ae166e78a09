package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// FoldPhone normalizes a phone number typed by a person: compatibility
// forms such as full-width digits fold to ASCII, separators are dropped,
// and a single leading '+' is preserved.
func FoldPhone(s string) string {
	s = strings.TrimSpace(Normalize(s))
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}
