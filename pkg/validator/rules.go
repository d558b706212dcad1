package validator

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

func Required(field, value string) Rule {
	return check(strings.TrimSpace(value) != "", field, "field is required")
}

func MaxLen(field, value string, max int) Rule {
	return check(utf8.RuneCountInString(value) <= max, field, fmt.Sprintf("must be at most %d characters", max))
}

// ValidEmail accepts a bare address of the shape local@domain.tld.
// Display names and angle brackets are rejected.
func ValidEmail(field, value string) Rule {
	return check(IsEmail(value), field, "must be a valid email address")
}

// IsEmail is the predicate behind ValidEmail.
func IsEmail(value string) bool {
	if value == "" || strings.ContainsAny(value, " \t\r\n") {
		return false
	}

	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return false
	}

	local, domain, ok := strings.Cut(value, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}

	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1 && !strings.HasPrefix(domain, ".")
}
