package currency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestResolve(t *testing.T) {
	cases := map[string]string{
		"IN":   "INR",
		"in":   "INR",
		" GB ": "GBP",
		"US":   "USD",
		"JP":   "JPY",
		"EU":   "EUR",
		"AU":   "AUD",
		"CA":   "CAD",
		"CN":   "CNY",
		"ZZ":   "USD",
		"":     "USD",
	}
	for country, want := range cases {
		require.Equal(t, want, Resolve(country), "country %q", country)
	}
}

func TestResolvedCodesAreKnown(t *testing.T) {
	for _, code := range byCountry {
		require.True(t, Known(code), code)
	}
	require.False(t, Known("XYZ1"))
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(2500), MinorUnits(2500, "USD"))
	require.Equal(t, int64(2500), MinorUnits(2500, "inr"))
	require.Equal(t, int64(25), MinorUnits(2500, "JPY"))
	require.Equal(t, int64(26), MinorUnits(2550, "JPY"))
	require.Equal(t, int64(2500), MinorUnits(2500, "???"))
}

func TestFormatIncludesAmount(t *testing.T) {
	out := Format(2500, "USD", language.English)
	require.True(t, strings.Contains(out, "25"), out)
}
