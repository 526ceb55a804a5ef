package repositories

import (
	"context"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/pagination"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository stores the items of each user's remote cart.
type CartRepository interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	PutItem(ctx context.Context, userID string, item domain.CartItem) error
	DeleteItem(ctx context.Context, userID string, itemID string) error
	Clear(ctx context.Context, userID string) error
	// WatchItems blocks, calling fn with the full item list on every remote change, until
	// ctx ends or the listener fails.
	WatchItems(ctx context.Context, userID string, fn func([]domain.CartItem)) error
}

// OrderRepository persists orders. Only status moves after Insert.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, userID string, orderID string) (domain.Order, error)
	// List returns up to limit orders newest first, starting after the cursor when it is set.
	List(ctx context.Context, userID string, limit int, after pagination.Cursor) ([]domain.Order, error)
	// UpdateStatus moves the order from one status to the next. A stored status other than
	// from, or a transition domain.CanTransition refuses, is a conflict.
	UpdateStatus(ctx context.Context, userID string, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error)
}

// PaymentRepository persists payment attempts.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	ListByOrder(ctx context.Context, userID string, orderID string) ([]domain.Payment, error)
	// ConfirmPayment stores a successful payment and moves its order from pending to
	// confirmed atomically. It fails with a conflict when the order already has a success.
	ConfirmPayment(ctx context.Context, payment domain.Payment, at time.Time) (domain.Order, error)
}

// AddressRepository persists shipping addresses. At most one address per user is default.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	// Upsert saves addr; the user's first address becomes default and a default address
	// clears the flag on every other one.
	Upsert(ctx context.Context, userID string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// HealthRepository exposes dependency health information for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
