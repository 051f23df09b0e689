package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/allisson/phivault/internal/errors"
)

func TestHexKey(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		shouldErr bool
	}{
		{name: "lowercase hex key", value: strings.Repeat("ab", 32)},
		{name: "uppercase hex key", value: strings.Repeat("AB", 32)},
		{name: "empty string left to Required", value: ""},
		{name: "too short", value: strings.Repeat("ab", 31), shouldErr: true},
		{name: "too long", value: strings.Repeat("ab", 33), shouldErr: true},
		{name: "non-hex characters", value: strings.Repeat("zz", 32), shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HexKey.Validate(tt.value)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWrapValidationError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, WrapValidationError(nil))
	})

	t.Run("validation errors become ErrInvalidInput", func(t *testing.T) {
		err := WrapValidationError(assert.AnError)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Contains(t, err.Error(), assert.AnError.Error())
	})
}
