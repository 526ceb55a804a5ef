package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/payments"
	"github.com/buypoint/checkout/internal/platform/breaker"
	"github.com/buypoint/checkout/internal/repositories"
)

const defaultCartReconcileInterval = 15 * time.Second

// ErrCheckoutInFlight is returned when the session already has a checkout running.
var ErrCheckoutInFlight = fmt.Errorf("checkout: another checkout is in progress: %w", domain.ErrConflict)

var errSessionUserRequired = fmt.Errorf("session registry: user id is required: %w", domain.ErrNotAuthenticated)

// Session holds the per-user state of a signed-in shopper: the cart coordinator, the UPI
// relay for the shopper's device and the current payment verification.
type Session struct {
	UserID       string
	Cart         *CartCoordinator
	Launcher     *payments.RelayLauncher
	Verification *VerificationTracker

	inFlight atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Go runs fn in the background for the lifetime of the session. fn receives the session
// context, which is cancelled when the session ends; End waits for fn to return.
func (s *Session) Go(fn func(ctx context.Context)) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

// acquireCheckout claims the session's single checkout slot.
func (s *Session) acquireCheckout() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

func (s *Session) releaseCheckout() {
	s.inFlight.Store(false)
}

// CheckoutInFlight reports whether a checkout is running for the session.
func (s *Session) CheckoutInFlight() bool {
	return s.inFlight.Load()
}

func (s *Session) end() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Cart.Reset()
	s.Cart.Close()
	s.Launcher.Abandon()
	s.Verification.Reset()
	s.wg.Wait()
}

// SessionRegistryDeps wires the session registry.
type SessionRegistryDeps struct {
	Carts             repositories.CartRepository
	Breaker           *breaker.Breaker
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
	Metrics           CartMetrics
	RemoteTimeout     time.Duration
	ReconcileInterval time.Duration
	// DisableWatch skips the remote snapshot listener; the reconciler still polls.
	DisableWatch bool
}

// SessionRegistry owns one Session per signed-in user. Sessions are created lazily on the
// first request and live until End or Close.
type SessionRegistry struct {
	deps     SessionRegistryDeps
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	interval time.Duration

	// root outlives individual requests; sessions derive their background context from it.
	root       context.Context
	cancelRoot context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry validates deps and returns an empty registry.
func NewSessionRegistry(deps SessionRegistryDeps) (*SessionRegistry, error) {
	if deps.Carts == nil {
		return nil, errors.New("session registry: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	interval := deps.ReconcileInterval
	if interval <= 0 {
		interval = defaultCartReconcileInterval
	}
	root, cancel := context.WithCancel(context.Background())
	return &SessionRegistry{
		deps:       deps,
		now:        clock,
		logger:     logger,
		interval:   interval,
		root:       root,
		cancelRoot: cancel,
		sessions:   make(map[string]*Session),
	}, nil
}

// Get returns the user's session, creating it and loading the cart on first use. A failed
// initial load is logged and leaves the session degraded.
func (r *SessionRegistry) Get(ctx context.Context, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errSessionUserRequired
	}

	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	if r.root.Err() != nil {
		r.mu.Unlock()
		return nil, ErrCartClosed
	}
	s, err := r.newSession(userID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[userID] = s
	r.mu.Unlock()

	r.logger(ctx, "session.started", map[string]any{"userID": userID})
	if err := s.Cart.Load(ctx); err != nil {
		r.logger(ctx, "session.cart_load_failed", map[string]any{"userID": userID, "error": err.Error()})
	}
	return s, nil
}

func (r *SessionRegistry) newSession(userID string) (*Session, error) {
	cart, err := NewCartCoordinator(CartCoordinatorDeps{
		UserID:        userID,
		Repository:    r.deps.Carts,
		Breaker:       r.deps.Breaker,
		Clock:         r.now,
		Logger:        r.logger,
		RemoteTimeout: r.deps.RemoteTimeout,
		Metrics:       r.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(r.root)
	s := &Session{
		UserID:       userID,
		Cart:         cart,
		Launcher:     payments.NewRelayLauncher(r.now),
		Verification: NewVerificationTracker(r.now),
		ctx:          ctx,
		cancel:       cancel,
	}
	if !r.deps.DisableWatch {
		cart.Start(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cart.RunReconciler(ctx, r.interval)
	}()
	return s, nil
}

// Lookup returns an existing session without creating one.
func (r *SessionRegistry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(userID)]
	return s, ok
}

// End tears down the user's session on sign-out. The local cart view is emptied; the
// remote cart is kept for the next sign-in.
func (r *SessionRegistry) End(ctx context.Context, userID string) bool {
	userID = strings.TrimSpace(userID)
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.end()
	r.logger(ctx, "session.ended", map[string]any{"userID": userID})
	return true
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session and refuses new ones.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.cancelRoot()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.end()
			return nil
		})
	}
	_ = g.Wait()
}
