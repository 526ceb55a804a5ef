package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoPendingLaunch is returned when a result arrives for a launch nobody is waiting on.
	ErrNoPendingLaunch = errors.New("payments: no pending upi launch")
	// ErrLaunchInProgress is returned when a second launch starts before the first resolved.
	ErrLaunchInProgress = errors.New("payments: upi launch already in progress")
)

// UPILauncher hands a deep link to the shopper's device and reports the activity result.
type UPILauncher interface {
	IsInstalled(ctx context.Context, app PayerApp) bool
	Launch(ctx context.Context, req LaunchRequest) (*PendingResult, error)
}

// LaunchRequest is the intent the device should start.
type LaunchRequest struct {
	OrderID   string
	App       PayerApp
	Package   string
	Link      string
	StartedAt time.Time
}

// PendingResult is a single-assignment future for an activity result.
type PendingResult struct {
	once   sync.Once
	done   chan struct{}
	result ActivityResult
}

// NewPendingResult returns an unresolved future.
func NewPendingResult() *PendingResult {
	return &PendingResult{done: make(chan struct{})}
}

// Resolve stores result; only the first call has any effect.
func (p *PendingResult) Resolve(result ActivityResult) bool {
	resolved := false
	p.once.Do(func() {
		p.result = result
		resolved = true
		close(p.done)
	})
	return resolved
}

// Resolved reports whether a result has been stored.
func (p *PendingResult) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result arrives or ctx ends.
func (p *PendingResult) Wait(ctx context.Context) (ActivityResult, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return ActivityResult{}, ctx.Err()
	}
}

// RelayLauncher implements UPILauncher for a device that talks to the API over HTTP: the
// device reports its installed apps, polls for the pending launch, and relays the result.
type RelayLauncher struct {
	clock func() time.Time

	mu        sync.Mutex
	installed map[PayerApp]bool
	request   *LaunchRequest
	pending   *PendingResult
}

// NewRelayLauncher returns a launcher with no apps installed.
func NewRelayLauncher(clock func() time.Time) *RelayLauncher {
	if clock == nil {
		clock = time.Now
	}
	return &RelayLauncher{clock: clock, installed: map[PayerApp]bool{}}
}

// SetInstalled replaces the set of payer apps present on the device.
func (l *RelayLauncher) SetInstalled(apps []PayerApp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.installed = make(map[PayerApp]bool, len(apps))
	for _, app := range apps {
		l.installed[app] = true
	}
}

// Installed lists the apps last reported by the device.
func (l *RelayLauncher) Installed() []PayerApp {
	l.mu.Lock()
	defer l.mu.Unlock()
	apps := make([]PayerApp, 0, len(l.installed))
	for _, name := range PreferredPayerApps() {
		if l.installed[PayerApp(name)] {
			apps = append(apps, PayerApp(name))
		}
	}
	return apps
}

func (l *RelayLauncher) IsInstalled(_ context.Context, app PayerApp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installed[app]
}

// Launch publishes req for the device to pick up. Only one unresolved launch may be
// outstanding; a launch the waiter gave up on is replaced.
func (l *RelayLauncher) Launch(_ context.Context, req LaunchRequest) (*PendingResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.installed[req.App] {
		return nil, fmt.Errorf("payments: %s is not installed", req.App)
	}
	if l.pending != nil && !l.pending.Resolved() {
		return nil, ErrLaunchInProgress
	}
	if req.Package == "" {
		req.Package = req.App.Package()
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = l.clock().UTC()
	}
	pending := NewPendingResult()
	l.request = &req
	l.pending = pending
	return pending, nil
}

// Pending returns the launch the device should perform, if any.
func (l *RelayLauncher) Pending() (LaunchRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.request == nil || l.pending == nil || l.pending.Resolved() {
		return LaunchRequest{}, false
	}
	return *l.request, true
}

// Deliver resolves the outstanding launch for orderID.
func (l *RelayLauncher) Deliver(orderID string, result ActivityResult) error {
	l.mu.Lock()
	pending := l.pending
	if pending == nil || pending.Resolved() || l.request == nil || l.request.OrderID != orderID {
		l.mu.Unlock()
		return ErrNoPendingLaunch
	}
	l.pending = nil
	l.request = nil
	l.mu.Unlock()

	pending.Resolve(result)
	return nil
}

// Abandon drops the outstanding launch, resolving it as cancelled.
func (l *RelayLauncher) Abandon() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.request = nil
	l.mu.Unlock()
	if pending != nil {
		pending.Resolve(ActivityResult{Code: ResultCanceled})
	}
}
