package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCartTotal(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ID: "a", UnitPrice: 1000, Quantity: 2},
		{ID: "b", UnitPrice: 500, Quantity: 1},
	}}
	if got := cart.Total(); got != 2500 {
		t.Fatalf("expected total 2500, got %d", got)
	}
	if cart.IsEmpty() {
		t.Fatalf("expected non-empty cart")
	}
}

func TestCanTransitionOnlyForward(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusPending, false},
		{OrderStatusDelivered, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusPending, OrderStatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := map[error]ErrorKind{
		fmt.Errorf("%w: quantity", ErrInvalidArgument): KindInvalidArgument,
		fmt.Errorf("wrap: %w", ErrUnreachable):         KindUnreachable,
		context.DeadlineExceeded:                       KindTimeout,
		errors.New("boom"):                             KindInternal,
	}
	for err, want := range cases {
		if got := KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
		}
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}

func TestVerificationStatusTerminal(t *testing.T) {
	if VerificationPending.Terminal() || VerificationNotStarted.Terminal() {
		t.Fatalf("pending and not_started are not terminal")
	}
	for _, s := range []VerificationStatus{VerificationSuccess, VerificationFailed, VerificationCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
}
