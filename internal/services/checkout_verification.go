package services

import (
	"errors"
	"sync"
	"time"

	"github.com/buypoint/checkout/internal/domain"
)

// ErrVerificationPending is returned when the verification dialog is dismissed before the
// payment attempt settled.
var ErrVerificationPending = errors.New("checkout: payment verification still pending")

// Verification is a snapshot of the current payment attempt as shown to the shopper.
type Verification struct {
	Status    domain.VerificationStatus
	OrderID   string
	Method    domain.PaymentMethod
	PaymentID string
	Message   string
	UpdatedAt time.Time
}

// VerificationTracker follows one payment attempt through
// not_started -> pending -> success | failed | cancelled.
type VerificationTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	current Verification
}

// NewVerificationTracker returns a tracker in the not_started state.
func NewVerificationTracker(clock func() time.Time) *VerificationTracker {
	if clock == nil {
		clock = time.Now
	}
	return &VerificationTracker{
		now:     func() time.Time { return clock().UTC() },
		current: Verification{Status: domain.VerificationNotStarted},
	}
}

// Begin marks a new attempt for orderID as pending. An attempt that is already pending
// cannot be replaced.
func (t *VerificationTracker) Begin(orderID string, method domain.PaymentMethod) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Status == domain.VerificationPending {
		return false
	}
	t.current = Verification{
		Status:    domain.VerificationPending,
		OrderID:   orderID,
		Method:    method,
		UpdatedAt: t.now(),
	}
	return true
}

// Resolve moves a pending attempt for orderID to a terminal status. Later resolutions of
// the same attempt are ignored.
func (t *VerificationTracker) Resolve(orderID string, status domain.VerificationStatus, paymentID, message string) bool {
	if !status.Terminal() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Status != domain.VerificationPending || t.current.OrderID != orderID {
		return false
	}
	t.current.Status = status
	t.current.PaymentID = paymentID
	t.current.Message = message
	t.current.UpdatedAt = t.now()
	return true
}

// Dismiss resets a settled attempt back to not_started.
func (t *VerificationTracker) Dismiss() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.current.Status == domain.VerificationPending:
		return ErrVerificationPending
	case t.current.Status.Terminal():
		t.current = Verification{Status: domain.VerificationNotStarted, UpdatedAt: t.now()}
	}
	return nil
}

// Current returns the latest snapshot.
func (t *VerificationTracker) Current() Verification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Reset forgets any attempt, pending or not.
func (t *VerificationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Verification{Status: domain.VerificationNotStarted, UpdatedAt: t.now()}
}
