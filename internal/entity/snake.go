package entity

import (
	"strings"
	"unicode"
)

// snake converts a Go identifier to snake_case, keeping acronyms together:
// "UserID" becomes "user_id" and "HTTPCode" becomes "http_code".
func snake(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) && i > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || unicode.IsUpper(prev) && nextLower) {
				// A trailing plural "s" stays with the acronym: "UserIDs".
				if !(unicode.IsUpper(prev) && i+2 == len(rs) && rs[i+1] == 's') {
					b.WriteByte('_')
				}
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
