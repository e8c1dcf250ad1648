// Copyright (c) 2026 NimbusVPN, LLC.

package helpers

import (
	"unicode"
	"unicode/utf8"
)

// CapitalizeFirstLetter upper-cases the first letter of a message. Used
// when forwarding internal error texts to clients.
func CapitalizeFirstLetter(s string) string {
	if len(s) == 0 {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
