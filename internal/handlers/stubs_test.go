package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/pagination"
	"github.com/buypoint/checkout/internal/services"
)

type unavailableErr struct{}

func (unavailableErr) Error() string       { return "backend unavailable" }
func (unavailableErr) IsNotFound() bool    { return false }
func (unavailableErr) IsConflict() bool    { return false }
func (unavailableErr) IsUnavailable() bool { return true }

type memCarts struct {
	mu          sync.Mutex
	items       map[string]map[string]domain.CartItem
	unreachable bool
}

func newMemCarts() *memCarts {
	return &memCarts{items: map[string]map[string]domain.CartItem{}}
}

func (m *memCarts) setUnreachable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = v
}

func (m *memCarts) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, unavailableErr{}
	}
	out := make([]domain.CartItem, 0, len(m.items[userID]))
	for _, item := range m.items[userID] {
		out = append(out, item)
	}
	return out, nil
}

func (m *memCarts) PutItem(ctx context.Context, userID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return unavailableErr{}
	}
	if m.items[userID] == nil {
		m.items[userID] = map[string]domain.CartItem{}
	}
	m.items[userID][item.ID] = item
	return nil
}

func (m *memCarts) DeleteItem(ctx context.Context, userID string, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return unavailableErr{}
	}
	delete(m.items[userID], itemID)
	return nil
}

func (m *memCarts) Clear(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return unavailableErr{}
	}
	delete(m.items, userID)
	return nil
}

func (m *memCarts) WatchItems(ctx context.Context, userID string, fn func([]domain.CartItem)) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestRegistry(t *testing.T, carts *memCarts) *services.SessionRegistry {
	t.Helper()
	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{Carts: carts})
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	t.Cleanup(registry.Close)
	return registry
}

func withIdentity(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Email: uid + "@example.com"}))
}

type stubCheckoutService struct {
	placeFunc func(ctx context.Context, session *services.Session, cmd services.PlaceOrderCommand) (services.CheckoutResult, error)
	retryFunc func(ctx context.Context, session *services.Session, cmd services.RetryPaymentCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, session *services.Session, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, session, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) RetryPayment(ctx context.Context, session *services.Session, cmd services.RetryPaymentCommand) (services.CheckoutResult, error) {
	if s.retryFunc != nil {
		return s.retryFunc(ctx, session, cmd)
	}
	return services.CheckoutResult{}, nil
}

type stubAddressService struct {
	listFunc       func(ctx context.Context, userID string) ([]domain.Address, error)
	saveFunc       func(ctx context.Context, cmd services.SaveAddressCommand) (domain.Address, error)
	deleteFunc     func(ctx context.Context, userID, addressID string) error
	setDefaultFunc func(ctx context.Context, userID, addressID string) (domain.Address, error)
	getFunc        func(ctx context.Context, userID, addressID string) (domain.Address, error)
}

func (s *stubAddressService) ListAddresses(ctx context.Context, userID string) ([]domain.Address, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubAddressService) SaveAddress(ctx context.Context, cmd services.SaveAddressCommand) (domain.Address, error) {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, cmd)
	}
	return cmd.Address, nil
}

func (s *stubAddressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID, addressID)
	}
	return nil
}

func (s *stubAddressService) SetDefaultAddress(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.setDefaultFunc != nil {
		return s.setDefaultFunc(ctx, userID, addressID)
	}
	return domain.Address{}, nil
}

func (s *stubAddressService) GetAddress(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID, addressID)
	}
	return domain.Address{}, domain.ErrNotFound
}

type stubOrderHistory struct {
	listFunc   func(ctx context.Context, userID string, page pagination.Params) (services.OrderPage, error)
	getFunc    func(ctx context.Context, userID, orderID string) (services.OrderDetail, error)
	cancelFunc func(ctx context.Context, userID, orderID string) (domain.Order, error)
}

func (s *stubOrderHistory) ListOrders(ctx context.Context, userID string, page pagination.Params) (services.OrderPage, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, page)
	}
	return services.OrderPage{}, nil
}

func (s *stubOrderHistory) GetOrder(ctx context.Context, userID, orderID string) (services.OrderDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID, orderID)
	}
	return services.OrderDetail{}, domain.ErrNotFound
}

func (s *stubOrderHistory) CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, userID, orderID)
	}
	return domain.Order{}, domain.ErrNotFound
}

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}
