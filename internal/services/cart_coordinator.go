package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/breaker"
	"github.com/buypoint/checkout/internal/repositories"
)

const (
	defaultCartRemoteTimeout = 5 * time.Second
	cartWatchInitialBackoff  = time.Second
	cartWatchMaxBackoff      = 30 * time.Second
)

var (
	// ErrCartInvalidInput indicates a rejected product or quantity.
	ErrCartInvalidInput = fmt.Errorf("cart coordinator: invalid input: %w", domain.ErrInvalidArgument)
	// ErrCartClosed is returned after the owning session ended.
	ErrCartClosed = errors.New("cart coordinator: closed")
)

// DegradedError reports a cart change that was applied locally and queued because the
// remote store could not be reached. It unwraps to domain.ErrUnreachable.
type DegradedError struct {
	Op  string
	Err error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("cart %s kept locally: %v", e.Op, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

type cartOpKind int

const (
	cartOpPut cartOpKind = iota + 1
	cartOpDelete
	cartOpClear
)

type cartOp struct {
	kind   cartOpKind
	itemID string
	item   domain.CartItem
}

// CartCoordinatorDeps wires one user's cart coordinator.
type CartCoordinatorDeps struct {
	UserID        string
	Repository    repositories.CartRepository
	Breaker       *breaker.Breaker
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	IDGenerator   func() string
	RemoteTimeout time.Duration
	Metrics       CartMetrics
}

// CartCoordinator keeps a local view of one user's cart consistent with the remote store.
// Mutations update the local view first and then write through; writes that cannot reach
// the store are queued and replayed in order by Sync.
type CartCoordinator struct {
	userID        string
	repo          repositories.CartRepository
	breaker       *breaker.Breaker
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	newID         func() string
	remoteTimeout time.Duration
	metrics       CartMetrics

	// mu serialises read-modify-write cycles including the remote write.
	mu sync.Mutex

	viewMu    sync.RWMutex
	items     []domain.CartItem
	updatedAt time.Time
	pending   []cartOp
	stale     bool
	closed    bool
	watchers  map[int]chan []domain.CartItem
	nextWatch int

	loads singleflight.Group

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewCartCoordinator constructs a coordinator with an empty local view.
func NewCartCoordinator(deps CartCoordinatorDeps) (*CartCoordinator, error) {
	userID := strings.TrimSpace(deps.UserID)
	if userID == "" {
		return nil, errors.New("cart coordinator: user id is required")
	}
	if deps.Repository == nil {
		return nil, errors.New("cart coordinator: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	timeout := deps.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultCartRemoteTimeout
	}
	return &CartCoordinator{
		userID:        userID,
		repo:          deps.Repository,
		breaker:       deps.Breaker,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
		newID:         newID,
		remoteTimeout: timeout,
		metrics:       deps.Metrics,
		watchers:      make(map[int]chan []domain.CartItem),
		done:          make(chan struct{}),
	}, nil
}

// UserID returns the owner of the cart.
func (c *CartCoordinator) UserID() string { return c.userID }

// Load replays queued changes and then replaces the local view with the remote items.
// Concurrent calls share one remote read. When the store is unreachable the local view is
// kept and a *DegradedError is returned.
func (c *CartCoordinator) Load(ctx context.Context) error {
	ch := c.loads.DoChan("load", func() (any, error) {
		return nil, c.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync retries queued changes and reloads. It is Load under the name callers use for an
// explicit retry.
func (c *CartCoordinator) Sync(ctx context.Context) error {
	return c.Load(ctx)
}

func (c *CartCoordinator) load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrCartClosed
	}

	replayed, flushErr := c.flushLocked(ctx, "sync")
	var degradedErr *DegradedError
	if errors.As(flushErr, &degradedErr) || ctx.Err() != nil {
		return flushErr
	}

	var items []domain.CartItem
	err := c.remote(ctx, func(rctx context.Context) error {
		var listErr error
		items, listErr = c.repo.ListItems(rctx, c.userID)
		return listErr
	})
	if err != nil {
		if isRemoteUnreachable(err) {
			c.viewMu.Lock()
			c.stale = true
			c.viewMu.Unlock()
			c.degraded(ctx, "load", err)
			return &DegradedError{Op: "load", Err: err}
		}
		return err
	}

	c.viewMu.Lock()
	c.items = cloneItems(items)
	c.updatedAt = c.now()
	c.stale = false
	c.publishLocked()
	c.viewMu.Unlock()

	if replayed > 0 {
		if c.metrics != nil {
			c.metrics.CartSynced(ctx, replayed)
		}
		c.logger(ctx, "cart.sync.replayed", map[string]any{"userID": c.userID, "operations": replayed})
	}
	return flushErr
}

// Add puts quantity units of product into the cart. An existing item for the product has
// its quantity raised; otherwise a new item with a fresh id is created.
func (c *CartCoordinator) Add(ctx context.Context, product domain.Product, quantity int) (domain.CartItem, error) {
	productID := strings.TrimSpace(product.ID)
	if quantity <= 0 || productID == "" || product.Price < 0 {
		return domain.CartItem{}, ErrCartInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return domain.CartItem{}, ErrCartClosed
	}

	c.viewMu.Lock()
	idx := c.indexOfProductLocked(productID)
	var item domain.CartItem
	if idx >= 0 {
		c.items[idx].Quantity += quantity
		item = c.items[idx]
	} else {
		item = domain.CartItem{
			ID:        c.newID(),
			ProductID: productID,
			Name:      strings.TrimSpace(product.Name),
			UnitPrice: product.Price,
			Quantity:  quantity,
			ImageURL:  strings.TrimSpace(product.ImageURL),
		}
		c.items = append(c.items, item)
	}
	c.enqueueLocked(cartOp{kind: cartOpPut, itemID: item.ID, item: item})
	c.touchLocked()
	c.viewMu.Unlock()

	_, err := c.flushLocked(ctx, "add")
	return item, err
}

// SetQuantity replaces an item's quantity. Zero or less removes the item; an unknown id
// is ignored.
func (c *CartCoordinator) SetQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return c.Remove(ctx, itemID)
	}
	itemID = strings.TrimSpace(itemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrCartClosed
	}

	c.viewMu.Lock()
	idx := c.indexOfItemLocked(itemID)
	if idx < 0 {
		c.viewMu.Unlock()
		return nil
	}
	c.items[idx].Quantity = quantity
	c.enqueueLocked(cartOp{kind: cartOpPut, itemID: itemID, item: c.items[idx]})
	c.touchLocked()
	c.viewMu.Unlock()

	_, err := c.flushLocked(ctx, "update")
	return err
}

// Remove deletes an item. Removing an absent item succeeds.
func (c *CartCoordinator) Remove(ctx context.Context, itemID string) error {
	itemID = strings.TrimSpace(itemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrCartClosed
	}

	c.viewMu.Lock()
	idx := c.indexOfItemLocked(itemID)
	if idx < 0 {
		c.viewMu.Unlock()
		return nil
	}
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	c.enqueueLocked(cartOp{kind: cartOpDelete, itemID: itemID})
	c.touchLocked()
	c.viewMu.Unlock()

	_, err := c.flushLocked(ctx, "remove")
	return err
}

// Clear empties the local view and the remote cart.
func (c *CartCoordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrCartClosed
	}

	c.viewMu.Lock()
	c.items = nil
	c.pending = []cartOp{{kind: cartOpClear}}
	c.touchLocked()
	c.viewMu.Unlock()

	_, err := c.flushLocked(ctx, "clear")
	return err
}

// Items returns a copy of the local view.
func (c *CartCoordinator) Items() []domain.CartItem {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return cloneItems(c.items)
}

// Total sums price times quantity over the local view.
func (c *CartCoordinator) Total() int64 {
	return c.Snapshot().Total()
}

// Snapshot returns the local view as a cart.
func (c *CartCoordinator) Snapshot() domain.Cart {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return domain.Cart{UserID: c.userID, Items: cloneItems(c.items), UpdatedAt: c.updatedAt}
}

// Degraded reports whether the local view holds changes the remote store has not seen, or
// the last load could not reach it.
func (c *CartCoordinator) Degraded() bool {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.stale || len(c.pending) > 0
}

// PendingOperations reports how many changes wait for replay.
func (c *CartCoordinator) PendingOperations() int {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return len(c.pending)
}

// Watch streams the item list, starting with the current one. Slow readers only see the
// latest list. The channel closes when ctx ends or the coordinator closes.
func (c *CartCoordinator) Watch(ctx context.Context) <-chan []domain.CartItem {
	ch := make(chan []domain.CartItem, 1)

	c.viewMu.Lock()
	if c.closed {
		c.viewMu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- cloneItems(c.items)
	c.viewMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.viewMu.Lock()
		defer c.viewMu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}()
	return ch
}

// Start subscribes to remote changes made by other devices. Remote snapshots replace the
// local view only while no local changes are queued. It returns immediately.
func (c *CartCoordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		c.stop = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.watchRemote(ctx)
		}()
	})
}

func (c *CartCoordinator) watchRemote(ctx context.Context) {
	backoff := cartWatchInitialBackoff
	for {
		received := false
		err := c.repo.WatchItems(ctx, c.userID, func(items []domain.CartItem) {
			received = true
			c.applyRemoteSnapshot(items)
		})
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = cartWatchInitialBackoff
		}
		c.logger(ctx, "cart.watch.restart", map[string]any{
			"userID":  c.userID,
			"error":   errString(err),
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cartWatchMaxBackoff)
	}
}

func (c *CartCoordinator) applyRemoteSnapshot(items []domain.CartItem) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	if c.closed || len(c.pending) > 0 {
		return
	}
	c.items = cloneItems(items)
	c.stale = false
	c.touchLocked()
}

// RunReconciler calls Sync every interval while the coordinator is degraded. It blocks
// until ctx ends.
func (c *CartCoordinator) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.isClosed() {
			return
		}
		if !c.Degraded() {
			continue
		}
		if err := c.Sync(ctx); err != nil && ctx.Err() == nil {
			c.logger(ctx, "cart.reconcile.failed", map[string]any{"userID": c.userID, "error": err.Error()})
		}
	}
}

// Reset empties the local view and drops queued changes without touching the remote cart.
func (c *CartCoordinator) Reset() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.items = nil
	c.pending = nil
	c.stale = false
	c.touchLocked()
}

// Close stops the remote subscription and closes every watcher.
func (c *CartCoordinator) Close() {
	c.viewMu.Lock()
	if c.closed {
		c.viewMu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
	stop := c.stop
	c.viewMu.Unlock()

	if stop != nil {
		stop()
	}
	c.wg.Wait()
}

// flushLocked replays queued operations in order. Unreachable failures stop the replay and
// keep the remaining queue; any other failure drops the offending operation.
func (c *CartCoordinator) flushLocked(ctx context.Context, op string) (int, error) {
	replayed := 0
	var firstErr error
	for {
		c.viewMu.RLock()
		if len(c.pending) == 0 {
			c.viewMu.RUnlock()
			break
		}
		next := c.pending[0]
		c.viewMu.RUnlock()

		err := c.remote(ctx, func(rctx context.Context) error {
			return c.applyRemote(rctx, next)
		})
		if err != nil && (isRemoteUnreachable(err) || ctx.Err() != nil) {
			if ctx.Err() != nil {
				return replayed, ctx.Err()
			}
			c.degraded(ctx, op, err)
			return replayed, &DegradedError{Op: op, Err: err}
		}

		c.viewMu.Lock()
		if len(c.pending) > 0 {
			c.pending = c.pending[1:]
		}
		c.viewMu.Unlock()

		if err != nil {
			c.logger(ctx, "cart.remote.rejected", map[string]any{"userID": c.userID, "op": op, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replayed++
	}
	return replayed, firstErr
}

func (c *CartCoordinator) applyRemote(ctx context.Context, op cartOp) error {
	switch op.kind {
	case cartOpPut:
		return c.repo.PutItem(ctx, c.userID, op.item)
	case cartOpDelete:
		return c.repo.DeleteItem(ctx, c.userID, op.itemID)
	case cartOpClear:
		return c.repo.Clear(ctx, c.userID)
	default:
		return fmt.Errorf("cart coordinator: unknown operation %d", op.kind)
	}
}

// remote runs fn through the breaker with a per-call timeout and classifies the result.
func (c *CartCoordinator) remote(ctx context.Context, fn func(context.Context) error) error {
	return c.breaker.Do(func() error {
		rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		defer cancel()
		err := fn(rctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
		default:
			return repositories.Translate(err)
		}
	})
}

func (c *CartCoordinator) degraded(ctx context.Context, op string, err error) {
	if c.metrics != nil {
		c.metrics.CartDegraded(ctx, op)
	}
	c.logger(ctx, "cart."+op+".degraded", map[string]any{
		"userID":  c.userID,
		"pending": c.PendingOperations(),
		"error":   err.Error(),
	})
}

// enqueueLocked appends op, dropping earlier operations on the same item since the newest
// one carries the full item state.
func (c *CartCoordinator) enqueueLocked(op cartOp) {
	kept := c.pending[:0:0]
	for _, queued := range c.pending {
		if queued.kind != cartOpClear && queued.itemID == op.itemID {
			continue
		}
		kept = append(kept, queued)
	}
	c.pending = append(kept, op)
}

func (c *CartCoordinator) publishLocked() {
	for _, w := range c.watchers {
		snapshot := cloneItems(c.items)
		select {
		case <-w:
		default:
		}
		select {
		case w <- snapshot:
		default:
		}
	}
}

func (c *CartCoordinator) touchLocked() {
	c.updatedAt = c.now()
	c.publishLocked()
}

func (c *CartCoordinator) indexOfProductLocked(productID string) int {
	for i, item := range c.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *CartCoordinator) indexOfItemLocked(itemID string) int {
	if itemID == "" {
		return -1
	}
	for i, item := range c.items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *CartCoordinator) isClosed() bool {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.closed
}

func isRemoteUnreachable(err error) bool {
	return errors.Is(err, domain.ErrUnreachable)
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
