// Package validation provides custom validation rules for the application.
package validation

import (
	"regexp"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/phivault/internal/errors"
)

var (
	// hexKeyRegex matches a 256-bit key written as 64 hex characters.
	hexKeyRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput.
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// HexKey validates that a string is a 64-character hex-encoded 256-bit key.
// Guards the rotation CLI inputs before any key material is parsed.
var HexKey = validation.By(func(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_hex_key_type", "must be a string")
	}
	if s == "" {
		return nil // Let Required handle empty strings
	}
	if !hexKeyRegex.MatchString(s) {
		return validation.NewError("validation_hex_key", "must be 64 hex characters")
	}
	return nil
})
