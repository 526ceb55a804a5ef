package breaker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/buypoint/checkout/internal/domain"
)

func TestBreakerOpensAfterConsecutiveUnreachable(t *testing.T) {
	var transitions []string
	b := New(Settings{
		Name:                "carts",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	calls := 0
	down := func() error {
		calls++
		return fmt.Errorf("dial: %w", domain.ErrUnreachable)
	}

	for i := 0; i < 2; i++ {
		if err := b.Do(down); !errors.Is(err, domain.ErrUnreachable) {
			t.Fatalf("expected unreachable, got %v", err)
		}
	}
	if !b.Open() {
		t.Fatalf("expected breaker to be open")
	}

	err := b.Do(down)
	if !errors.Is(err, ErrOpen) || !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrOpen wrapping unreachable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected guarded call to be skipped while open, calls=%d", calls)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestBreakerIgnoresNonConnectivityErrors(t *testing.T) {
	b := New(Settings{ConsecutiveFailures: 1})
	invalid := fmt.Errorf("%w: bad", domain.ErrInvalidArgument)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return invalid }); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument passthrough, got %v", err)
		}
	}
	if b.Open() {
		t.Fatalf("breaker should stay closed for non-connectivity errors")
	}
}

func TestNilBreakerRunsCall(t *testing.T) {
	var b *Breaker
	ran := false
	if err := b.Do(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !ran || b.Open() {
		t.Fatalf("expected nil breaker to pass through")
	}
}
