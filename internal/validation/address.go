package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/buypoint/checkout/internal/domain"
)

var postalPatterns = map[string]*regexp.Regexp{}

// lenientPostalPattern applies to countries absent from the table.
var lenientPostalPattern = regexp.MustCompile(`^[A-Z0-9\s-]{3,10}$`)

func init() {
	register := func(pattern string, countries ...string) {
		re := regexp.MustCompile(pattern)
		for _, c := range countries {
			postalPatterns[c] = re
		}
	}
	register(`^\d{5}(-\d{4})?$`, "US")
	register(`^[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}$`, "GB")
	register(`^\d{6}$`, "IN", "CN", "RU", "SG")
	register(`^[A-Z]\d[A-Z] ?\d[A-Z]\d$`, "CA")
	register(`^\d{4}$`, "AU", "ZA", "NZ")
	register(`^\d{3}-\d{4}$`, "JP")
	register(`^\d{5}$`, "DE", "FR", "IT", "ES", "MX", "AE", "SA", "KR")
	register(`^\d{5}-\d{3}$`, "BR")
}

// PostalCode checks code against the pattern registered for country.
func PostalCode(code, country string) error {
	country = strings.ToUpper(strings.TrimSpace(country))
	code = strings.TrimSpace(code)

	pattern, ok := postalPatterns[country]
	if !ok {
		pattern = lenientPostalPattern
	}
	if !pattern.MatchString(code) {
		return fail(FieldPostalCode, fmt.Sprintf("Invalid postal code format for %s", country))
	}
	return nil
}

// Address requires every textual field and then checks the postal code.
func Address(addr domain.Address) error {
	required := []struct {
		field, value, message string
	}{
		{FieldStreet, addr.Street, "Street address is required"},
		{FieldCity, addr.City, "City is required"},
		{FieldState, addr.State, "State is required"},
		{FieldPostalCode, addr.PostalCode, "ZIP code is required"},
		{FieldCountry, addr.Country, "Country is required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fail(r.field, r.message)
		}
	}
	return PostalCode(addr.PostalCode, addr.Country)
}
