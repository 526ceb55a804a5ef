package payments

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/buypoint/checkout/internal/domain"
)

// ActivityResultCode is the Android activity result reported by the payer app.
type ActivityResultCode string

const (
	ResultOK       ActivityResultCode = "RESULT_OK"
	ResultCanceled ActivityResultCode = "RESULT_CANCELED"
)

// ActivityResult is what the device relays back after the payer app returns.
type ActivityResult struct {
	Code     ActivityResultCode
	Response string
}

// UPIOutcome is the parsed and checked result of a UPI launch.
type UPIOutcome struct {
	Status   domain.VerificationStatus
	TxnID    string
	Ref      string
	Amount   int64
	Currency string
	Reason   string
}

// ParseUPIResponse interprets an activity result. The response is a query string such as
// "Status=SUCCESS&txnId=T1&tr=ord_1&am=25.00&cu=INR"; every field is required.
func ParseUPIResponse(result ActivityResult) UPIOutcome {
	switch result.Code {
	case ResultCanceled:
		return UPIOutcome{Status: domain.VerificationCancelled, Reason: "cancelled by user"}
	case ResultOK:
	default:
		return UPIOutcome{Status: domain.VerificationFailed, Reason: "unknown result code"}
	}
	raw := strings.TrimSpace(result.Response)
	if raw == "" {
		return UPIOutcome{Status: domain.VerificationFailed, Reason: "empty response"}
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return UPIOutcome{Status: domain.VerificationFailed, Reason: "malformed response"}
	}

	out := UPIOutcome{
		TxnID:    strings.TrimSpace(values.Get("txnId")),
		Ref:      strings.TrimSpace(values.Get("tr")),
		Currency: strings.ToUpper(strings.TrimSpace(values.Get("cu"))),
	}
	status := strings.TrimSpace(values.Get("Status"))
	amount, ok := parseUPIAmount(values.Get("am"))
	if status == "" || out.TxnID == "" || out.Ref == "" || out.Currency == "" || !ok {
		out.Status = domain.VerificationFailed
		out.Reason = "malformed response"
		return out
	}
	out.Amount = amount
	if !strings.EqualFold(status, "SUCCESS") {
		out.Status = domain.VerificationFailed
		out.Reason = "status " + strings.ToLower(status)
		return out
	}
	out.Status = domain.VerificationSuccess
	return out
}

// Reconcile checks a successful outcome against the order it claims to pay. Any mismatch
// turns it into a failure.
func (o UPIOutcome) Reconcile(orderID string, amount int64, currency string) UPIOutcome {
	if o.Status != domain.VerificationSuccess {
		return o
	}
	switch {
	case o.Ref != orderID:
		o.Status, o.Reason = domain.VerificationFailed, "transaction reference mismatch"
	case o.Amount != amount:
		o.Status, o.Reason = domain.VerificationFailed, "amount mismatch"
	case !strings.EqualFold(o.Currency, currency):
		o.Status, o.Reason = domain.VerificationFailed, "currency mismatch"
	}
	return o
}

// parseUPIAmount reads "25", "25.5" or "25.00" into hundredths.
func parseUPIAmount(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if !digits(whole) || (hasFrac && (!digits(frac) || len(frac) > 2)) {
		return 0, false
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
	}
	return units*100 + cents, true
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
