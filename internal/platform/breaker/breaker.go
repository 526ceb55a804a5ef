// Package breaker guards calls to the remote document store so a dead connection is
// detected once and subsequent calls fail fast.
package breaker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/buypoint/checkout/internal/domain"
)

const (
	defaultConsecutiveFailures = 3
	defaultOpenTimeout         = 30 * time.Second
	defaultHalfOpenRequests    = 1
)

// ErrOpen is returned without invoking the guarded call while the breaker is open.
var ErrOpen = fmt.Errorf("breaker: circuit open: %w", domain.ErrUnreachable)

// Settings configures a Breaker.
type Settings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	// IsFailure decides which errors count against the breaker. Defaults to
	// errors that wrap domain.ErrUnreachable.
	IsFailure     func(error) bool
	OnStateChange func(name, from, to string)
}

// Breaker wraps a gobreaker circuit breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Breaker from settings, filling defaults.
func New(s Settings) *Breaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = defaultConsecutiveFailures
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return errors.Is(err, domain.ErrUnreachable) }
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = "remote-store"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: defaultHalfOpenRequests,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
	}
	if s.OnStateChange != nil {
		notify := s.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			notify(name, from.String(), to.String())
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Do runs fn through the breaker. When the circuit is open fn is skipped and ErrOpen returned.
func (b *Breaker) Do(fn func() error) error {
	if b == nil || b.cb == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open() bool {
	if b == nil || b.cb == nil {
		return false
	}
	return b.cb.State() == gobreaker.StateOpen
}
