package services

import (
	"errors"
	"testing"

	"github.com/buypoint/checkout/internal/domain"
)

func TestVerificationTrackerLifecycle(t *testing.T) {
	tracker := NewVerificationTracker(nil)
	if got := tracker.Current().Status; got != domain.VerificationNotStarted {
		t.Fatalf("expected not_started, got %s", got)
	}
	if err := tracker.Dismiss(); err != nil {
		t.Fatalf("dismissing an idle tracker should be a no-op, got %v", err)
	}

	if !tracker.Begin("ord_1", domain.PaymentMethodUPI) {
		t.Fatal("expected Begin to start an attempt")
	}
	if tracker.Begin("ord_2", domain.PaymentMethodUPI) {
		t.Fatal("expected Begin to refuse while pending")
	}
	if err := tracker.Dismiss(); !errors.Is(err, ErrVerificationPending) {
		t.Fatalf("expected pending error, got %v", err)
	}

	if tracker.Resolve("ord_other", domain.VerificationSuccess, "pay_1", "") {
		t.Fatal("expected resolution for another order to be ignored")
	}
	if !tracker.Resolve("ord_1", domain.VerificationCancelled, "pay_1", "Payment cancelled") {
		t.Fatal("expected first resolution to apply")
	}
	if tracker.Resolve("ord_1", domain.VerificationSuccess, "pay_2", "") {
		t.Fatal("expected duplicate resolution to be ignored")
	}
	got := tracker.Current()
	if got.Status != domain.VerificationCancelled || got.PaymentID != "pay_1" {
		t.Fatalf("unexpected verification %+v", got)
	}

	if err := tracker.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if tracker.Current().Status != domain.VerificationNotStarted {
		t.Fatal("expected tracker reset after dismiss")
	}
}

func TestVerificationTrackerIgnoresNonTerminalResolution(t *testing.T) {
	tracker := NewVerificationTracker(nil)
	tracker.Begin("ord_1", domain.PaymentMethodCreditCard)
	if tracker.Resolve("ord_1", domain.VerificationPending, "", "") {
		t.Fatal("expected pending to be rejected as a resolution")
	}
}
