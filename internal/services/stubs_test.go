package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/payments"
	"github.com/buypoint/checkout/internal/platform/pagination"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return "repository error" }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

// memCartRepository keeps remote cart items in memory. writeErr, when set, fails every write.
type memCartRepository struct {
	mu       sync.Mutex
	items    map[string]domain.CartItem
	writeErr error
	listErr  error
	writes   int
	lists    int

	watchFunc func(ctx context.Context, userID string, fn func([]domain.CartItem)) error
}

func newMemCartRepository() *memCartRepository {
	return &memCartRepository{items: map[string]domain.CartItem{}}
}

func (r *memCartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.snapshotLocked(), nil
}

func (r *memCartRepository) PutItem(ctx context.Context, userID string, item domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.writeErr != nil {
		return r.writeErr
	}
	r.items[item.ID] = item
	return nil
}

func (r *memCartRepository) DeleteItem(ctx context.Context, userID string, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.writeErr != nil {
		return r.writeErr
	}
	delete(r.items, itemID)
	return nil
}

func (r *memCartRepository) Clear(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.writeErr != nil {
		return r.writeErr
	}
	r.items = map[string]domain.CartItem{}
	return nil
}

func (r *memCartRepository) WatchItems(ctx context.Context, userID string, fn func([]domain.CartItem)) error {
	if r.watchFunc != nil {
		return r.watchFunc(ctx, userID, fn)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *memCartRepository) setWriteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

func (r *memCartRepository) snapshot() []domain.CartItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *memCartRepository) snapshotLocked() []domain.CartItem {
	out := make([]domain.CartItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

type memOrderRepository struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	inserts int
}

func newMemOrderRepository() *memOrderRepository {
	return &memOrderRepository{orders: map[string]domain.Order{}}
}

// orderKey mirrors the users/{uid}/orders/{orderID} layout: ids are unique per user only.
func orderKey(userID, orderID string) string {
	return userID + "/" + orderID
}

func (r *memOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := orderKey(order.UserID, order.ID)
	if _, ok := r.orders[key]; ok {
		return &repositoryErrorStub{conflict: true}
	}
	r.inserts++
	r.orders[key] = order
	return nil
}

func (r *memOrderRepository) insertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts
}

func (r *memOrderRepository) Get(ctx context.Context, userID string, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderKey(userID, orderID)]
	if !ok {
		return domain.Order{}, &repositoryErrorStub{notFound: true}
	}
	return order, nil
}

func (r *memOrderRepository) List(ctx context.Context, userID string, limit int, after pagination.Cursor) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	newer := func(a, b domain.Order) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	}
	cursor := domain.Order{ID: after.ID, CreatedAt: after.CreatedAt}
	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID != userID {
			continue
		}
		if !after.IsZero() && !newer(cursor, order) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepository) UpdateStatus(ctx context.Context, userID string, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := orderKey(userID, orderID)
	order, ok := r.orders[key]
	if !ok {
		return domain.Order{}, &repositoryErrorStub{notFound: true}
	}
	if order.Status != from || !domain.CanTransition(from, to) {
		return domain.Order{}, &repositoryErrorStub{conflict: true}
	}
	order.Status = to
	order.UpdatedAt = at
	r.orders[key] = order
	return order, nil
}


func (r *memOrderRepository) only() domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		return order
	}
	return domain.Order{}
}

// memPaymentRepository shares orders with memOrderRepository so ConfirmPayment can move
// the order like the transactional implementation does.
type memPaymentRepository struct {
	mu       sync.Mutex
	orders   *memOrderRepository
	payments []domain.Payment
}

func (r *memPaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if payment.Status == domain.PaymentStatusSuccess {
		return errors.New("use ConfirmPayment for successful payments")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, payment)
	return nil
}

func (r *memPaymentRepository) ListByOrder(ctx context.Context, userID string, orderID string) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID && p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPaymentRepository) ConfirmPayment(ctx context.Context, payment domain.Payment, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == payment.OrderID && p.Status == domain.PaymentStatusSuccess {
			return domain.Order{}, &repositoryErrorStub{conflict: true}
		}
	}
	order, err := r.orders.UpdateStatus(ctx, payment.UserID, payment.OrderID, domain.OrderStatusPending, domain.OrderStatusConfirmed, at)
	if err != nil {
		return domain.Order{}, err
	}
	r.payments = append(r.payments, payment)
	return order, nil
}

func (r *memPaymentRepository) byStatus(status domain.PaymentStatus) []domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

type stubCardGateway struct {
	mu       sync.Mutex
	calls    []payments.IntentDescriptor
	openFunc func(ctx context.Context, intent payments.IntentDescriptor) (payments.GatewayResult, error)
}

func (g *stubCardGateway) Open(ctx context.Context, intent payments.IntentDescriptor) (payments.GatewayResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, intent)
	g.mu.Unlock()
	if g.openFunc != nil {
		return g.openFunc(ctx, intent)
	}
	return payments.GatewayResult{
		PaymentID: "pi_" + intent.OrderID,
		Status:    payments.StatusSucceeded,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
	}, nil
}

func (g *stubCardGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *capturePublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg", nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingCartMetrics struct {
	mu       sync.Mutex
	degraded []string
	synced   int
}

func (m *countingCartMetrics) CartDegraded(ctx context.Context, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = append(m.degraded, op)
}

func (m *countingCartMetrics) CartSynced(ctx context.Context, replayed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced += replayed
}
