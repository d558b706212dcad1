package validator

import (
	"errors"
	"strings"
)

// ValidationError is one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is what Apply returns when any rule fails.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	for i, e := range ve {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(e.Field + ": " + e.Message)
	}
	return b.String()
}

// Has reports whether field failed at least one rule.
func (ve ValidationErrors) Has(field string) bool {
	_, ok := ve.Fields()[field]
	return ok
}

// Fields maps each failed field to its first message.
func (ve ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(ve))
	for i := len(ve) - 1; i >= 0; i-- {
		out[ve[i].Field] = ve[i].Message
	}
	return out
}

// Rule is an evaluated check. Constructors such as Required decide pass or
// fail immediately; Apply only gathers the failures.
type Rule struct {
	ValidationError
	passed bool
}

func check(ok bool, field, msg string) Rule {
	return Rule{ValidationError: ValidationError{Field: field, Message: msg}, passed: ok}
}

// Apply returns ValidationErrors listing every failed rule, or nil.
func Apply(rules ...Rule) error {
	var failed ValidationErrors
	for _, r := range rules {
		if !r.passed {
			failed = append(failed, r.ValidationError)
		}
	}
	if failed == nil {
		return nil
	}
	return failed
}

// ExtractValidationErrors unwraps err to its ValidationErrors, if any.
func ExtractValidationErrors(err error) ValidationErrors {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func IsValidationError(err error) bool {
	return ExtractValidationErrors(err) != nil
}
