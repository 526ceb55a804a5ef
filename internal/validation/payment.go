package validation

import (
	"regexp"
	"strings"
	"time"

	"github.com/buypoint/checkout/internal/domain"
)

var (
	cardNumberPattern = regexp.MustCompile(`^\d{16}$`)
	cvvPattern        = regexp.MustCompile(`^\d{3,4}$`)
	upiIDPattern      = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z]{3,}$`)
	cardSeparators    = strings.NewReplacer(" ", "", "-", "")
)

// NormalizeCardNumber removes the spaces and hyphens shoppers type between digit groups.
func NormalizeCardNumber(number string) string {
	return cardSeparators.Replace(strings.TrimSpace(number))
}

// CardNumber requires 16 digits passing the Luhn checksum.
func CardNumber(number string) error {
	number = NormalizeCardNumber(number)
	if !cardNumberPattern.MatchString(number) {
		return fail(FieldCardNumber, "Card number must be 16 digits")
	}
	if !Luhn(number) {
		return fail(FieldCardNumber, "Invalid card number")
	}
	return nil
}

// Luhn reports whether digits satisfy the mod-10 checksum. Non-digit input is rejected.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// CardExpiry rejects cards that expired before now's month. Two-digit years are read as 20xx.
func CardExpiry(month, year int, now time.Time) error {
	if year >= 0 && year < 100 {
		year += 2000
	}
	currentYear, currentMonth := now.Year(), int(now.Month())

	if year < currentYear || (year == currentYear && month < currentMonth) {
		return fail(FieldCardExpiry, "Card has expired")
	}
	if month < 1 || month > 12 {
		return fail(FieldCardExpiry, "Invalid expiry month")
	}
	return nil
}

// CVV requires three or four digits.
func CVV(cvv string) error {
	if !cvvPattern.MatchString(strings.TrimSpace(cvv)) {
		return fail(FieldCVV, "Invalid CVV")
	}
	return nil
}

// Card runs the number, expiry and CVV checks in that order.
func Card(card domain.CardDetails, now time.Time) error {
	if err := CardNumber(card.Number); err != nil {
		return err
	}
	if err := CardExpiry(card.ExpiryMonth, card.ExpiryYear, now); err != nil {
		return err
	}
	return CVV(card.CVV)
}

// UPIID checks the local-part@handle shape of a UPI virtual payment address.
func UPIID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fail(FieldUPIID, "UPI ID is required")
	}
	if !upiIDPattern.MatchString(id) {
		return fail(FieldUPIID, "Invalid UPI ID format")
	}
	return nil
}
