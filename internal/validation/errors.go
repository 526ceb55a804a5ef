// Package validation holds the pure, fail-fast checks applied to checkout input.
// Every failure is an *Error naming the offending field and unwrapping to
// domain.ErrInvalidArgument.
package validation

import (
	"fmt"

	"github.com/buypoint/checkout/internal/domain"
)

// Field names reported in Error.Field.
const (
	FieldStreet     = "street"
	FieldCity       = "city"
	FieldState      = "state"
	FieldPostalCode = "postalCode"
	FieldCountry    = "country"
	FieldCardNumber = "cardNumber"
	FieldCardExpiry = "cardExpiry"
	FieldCVV        = "cvv"
	FieldUPIID      = "upiId"
)

// Error describes the first rule an input violated.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Unwrap exposes the taxonomy sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	return domain.ErrInvalidArgument
}

func fail(field, message string) error {
	return &Error{Field: field, Message: message}
}
