// Package validation checks typed records and commands at the storage and
// command boundary using go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"greenloop/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates s and wraps any failure in model.ErrValidation.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, e := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", e.Field(), e.Tag()))
		}
		return fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", model.ErrValidation, err)
}
