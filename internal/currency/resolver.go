// Package currency selects the checkout currency for a shipping country and converts
// amounts for gateways and display.
package currency

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Default is used for countries without an explicit mapping.
const Default = "USD"

var byCountry = map[string]string{
	"US": "USD",
	"GB": "GBP",
	"IN": "INR",
	"EU": "EUR",
	"JP": "JPY",
	"AU": "AUD",
	"CA": "CAD",
	"CN": "CNY",
}

// Resolve maps an ISO 3166 country code to the checkout currency.
func Resolve(country string) string {
	if code, ok := byCountry[strings.ToUpper(strings.TrimSpace(country))]; ok {
		return code
	}
	return Default
}

// Known reports whether code is a recognised ISO 4217 currency.
func Known(code string) bool {
	_, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	return err == nil
}

// MinorUnits converts an amount held in hundredths into the currency's own minor units,
// e.g. 2500 USD stays 2500 while 2500 JPY becomes 25.
func MinorUnits(amount int64, code string) int64 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return amount
	}
	scale, _ := currency.Standard.Rounding(unit)
	switch {
	case scale == 2:
		return amount
	case scale > 2:
		return amount * pow10(scale-2)
	default:
		div := pow10(2 - scale)
		return (amount + div/2) / div
	}
}

// Format renders an amount held in hundredths using the conventions of lang.
func Format(amount int64, code string, lang language.Tag) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.USD
	}
	p := message.NewPrinter(lang)
	return p.Sprint(currency.Symbol(unit.Amount(float64(amount) / 100)))
}

func pow10(n int) int64 {
	out := int64(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
