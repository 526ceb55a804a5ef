package payments

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// PayerApp identifies a UPI payer application on the shopper's device.
type PayerApp string

const (
	PayerPhonePe   PayerApp = "phonepe"
	PayerPaytm     PayerApp = "paytm"
	PayerGooglePay PayerApp = "google_pay"
)

var payerPackages = map[PayerApp]string{
	PayerPhonePe:   "com.phonepe.app",
	PayerPaytm:     "net.one97.paytm",
	PayerGooglePay: "com.google.android.apps.nbu.paisa.user",
}

// ErrUnknownPayerApp reports a payer app outside the supported table.
var ErrUnknownPayerApp = errors.New("payments: unknown upi payer app")

// PreferredPayerApps lists the supported payer apps in display order.
func PreferredPayerApps() []string {
	return []string{string(PayerPhonePe), string(PayerPaytm), string(PayerGooglePay)}
}

// ParsePayerApp accepts an app key ("phonepe") or its Android package name.
func ParsePayerApp(value string) (PayerApp, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if _, ok := payerPackages[PayerApp(trimmed)]; ok {
		return PayerApp(trimmed), nil
	}
	for app, pkg := range payerPackages {
		if pkg == trimmed {
			return app, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPayerApp, value)
}

// Package returns the Android package that handles the app's intents.
func (a PayerApp) Package() string {
	return payerPackages[a]
}

// DeepLinkRequest holds the fields of a upi://pay intent.
type DeepLinkRequest struct {
	PayeeVPA  string
	PayeeName string
	Amount    int64
	Currency  string
	OrderID   string
}

// BuildDeepLink renders the upi://pay URI. tr carries the order id so the response can be
// matched back to it.
func BuildDeepLink(req DeepLinkRequest) string {
	values := url.Values{}
	values.Set("pa", strings.TrimSpace(req.PayeeVPA))
	values.Set("pn", strings.TrimSpace(req.PayeeName))
	values.Set("am", FormatUPIAmount(req.Amount))
	values.Set("tr", req.OrderID)
	values.Set("tn", "Payment for order #"+req.OrderID)
	values.Set("cu", strings.ToUpper(strings.TrimSpace(req.Currency)))
	return "upi://pay?" + values.Encode()
}

// FormatUPIAmount renders hundredths as a two-decimal string.
func FormatUPIAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
