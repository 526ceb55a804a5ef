package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/stripe/stripe-go/v78"

	"github.com/buypoint/checkout/internal/domain"
)

// Status enumerates the normalised gateway outcomes.
type Status string

const (
	// StatusSucceeded indicates the gateway captured or authorised the payment.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway finished the attempt without taking money.
	StatusFailed Status = "failed"
)

// IntentDescriptor describes one payment attempt handed to the card gateway.
type IntentDescriptor struct {
	OrderID        string
	MerchantName   string
	Description    string
	Amount         int64
	Currency       string
	Method         domain.PaymentMethod
	Card           *domain.CardDetails
	PaymentToken   string
	Email          string
	Phone          string
	ThemeColor     string
	IdempotencyKey string
}

// GatewayResult is the gateway's verdict for an attempt. Amount is in the currency's minor units.
type GatewayResult struct {
	PaymentID      string
	Status         Status
	Amount         int64
	Currency       string
	FailureCode    string
	FailureMessage string
}

// CardGateway opens a hosted card or net-banking payment and blocks until it settles.
type CardGateway interface {
	Open(ctx context.Context, intent IntentDescriptor) (GatewayResult, error)
}

const (
	messageUnreachable = "No internet connection"
	messageTimeout     = "Payment processing timed out"
)

// GatewayError is a gateway failure classified into the error taxonomy.
type GatewayError struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("payments: %s (%s)", e.Message, e.Code)
	}
	return "payments: " + e.Message
}

// Is matches the taxonomy sentinel so errors.Is(err, domain.ErrTimeout) works on gateway errors.
func (e *GatewayError) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClassifyError maps transport and gateway errors onto the taxonomy. Errors already
// classified are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: domain.ErrTimeout, Code: "timeout", Message: messageTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return classifyStripeError(stripeErr)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &GatewayError{Kind: domain.ErrUnreachable, Code: "network", Message: messageUnreachable, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &GatewayError{Kind: domain.ErrTimeout, Code: "timeout", Message: messageTimeout, Err: err}
		}
		return &GatewayError{Kind: domain.ErrUnreachable, Code: "network", Message: messageUnreachable, Err: err}
	}
	return &GatewayError{Kind: domain.ErrInternal, Code: "gateway_error", Message: err.Error(), Err: err}
}

func classifyStripeError(err *stripe.Error) error {
	code := strings.TrimSpace(string(err.DeclineCode))
	if code == "" {
		code = strings.TrimSpace(string(err.Code))
	}
	message := strings.TrimSpace(err.Msg)

	switch {
	case err.Type == stripe.ErrorTypeCard:
		if message == "" {
			message = "Card was declined"
		}
		return &GatewayError{Kind: domain.ErrGatewayRejected, Code: code, Message: message, Err: err}
	case err.HTTPStatusCode == 429 || err.HTTPStatusCode >= 500:
		return &GatewayError{Kind: domain.ErrUnreachable, Code: code, Message: messageUnreachable, Err: err}
	case err.Type == stripe.ErrorTypeIdempotency:
		return &GatewayError{Kind: domain.ErrConflict, Code: "idempotency_error", Message: message, Err: err}
	case err.HTTPStatusCode == 401:
		return &GatewayError{Kind: domain.ErrInternal, Code: "gateway_auth", Message: "payment gateway rejected credentials", Err: err}
	default:
		if message == "" {
			message = "payment request rejected"
		}
		return &GatewayError{Kind: domain.ErrGatewayRejected, Code: code, Message: message, Err: err}
	}
}
