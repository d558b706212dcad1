package validator_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/validator"
)

func TestIsEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"", false},
		{"user", false},
		{"user@", false},
		{"@example.com", false},
		{"user@example", false},
		{"user@example.", false},
		{"user@.com", false},
		{"user@@example.com", false},
		{"a@b@example.com", false},
		{"user @example.com", false},
		{"User <user@example.com>", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, validator.IsEmail(tt.value))
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("all rules pass", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.Required("email", "user@example.com"),
			validator.ValidEmail("email", "user@example.com"),
			validator.MaxLen("email", "user@example.com", 254),
		)
		assert.NoError(t, err)
	})

	t.Run("collects every failure", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.Required("email", "  "),
			validator.ValidEmail("email", "  "),
			validator.MaxLen("name", "abcdef", 3),
		)
		require.Error(t, err)
		assert.True(t, validator.IsValidationError(err))

		ve := validator.ExtractValidationErrors(err)
		require.Len(t, ve, 3)
		assert.True(t, ve.Has("email"))
		assert.True(t, ve.Has("name"))
		assert.Equal(t, "field is required", ve.Fields()["email"])
	})

	t.Run("survives wrapping", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("checkout: %w", validator.Apply(validator.Required("email", "")))
		assert.True(t, validator.IsValidationError(err))
		assert.NotNil(t, validator.ExtractValidationErrors(err))
	})

	t.Run("plain errors are not validation errors", func(t *testing.T) {
		t.Parallel()
		assert.False(t, validator.IsValidationError(errors.New("boom")))
		assert.Nil(t, validator.ExtractValidationErrors(nil))
	})
}
