package services

import (
	"context"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/pagination"
)

// Order lifecycle event types published after checkout transitions.
const (
	EventOrderCreated   = "order.created"
	EventOrderConfirmed = "order.confirmed"
	EventPaymentFailed  = "payment.failed"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is the payload published for order and payment lifecycle changes.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	PaymentID   string    `json:"paymentId,omitempty"`
	Method      string    `json:"method,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	FailureCode string    `json:"failureCode,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// CartMetrics receives cart sync outcomes. *observability.CheckoutMetrics satisfies it.
type CartMetrics interface {
	CartDegraded(ctx context.Context, op string)
	CartSynced(ctx context.Context, replayed int)
}

// CheckoutMetrics receives order and payment outcomes.
type CheckoutMetrics interface {
	OrderCreated(ctx context.Context, currency string)
	PaymentOutcome(ctx context.Context, method, outcome, currency string, amount int64)
}

// AddressService manages the caller's saved shipping addresses.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]domain.Address, error)
	SaveAddress(ctx context.Context, cmd SaveAddressCommand) (domain.Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
	SetDefaultAddress(ctx context.Context, userID, addressID string) (domain.Address, error)
	GetAddress(ctx context.Context, userID, addressID string) (domain.Address, error)
}

// SaveAddressCommand creates an address when Address.ID is blank and replaces it otherwise.
type SaveAddressCommand struct {
	UserID  string
	Address domain.Address
}

// OrderHistoryService exposes the caller's past orders.
type OrderHistoryService interface {
	ListOrders(ctx context.Context, userID string, page pagination.Params) (OrderPage, error)
	GetOrder(ctx context.Context, userID, orderID string) (OrderDetail, error)
	CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
}

// OrderPage is one page of order history. NextPageToken is empty on the last page.
type OrderPage struct {
	Orders        []domain.Order
	NextPageToken string
}

// OrderDetail is an order together with every payment attempt made against it.
type OrderDetail struct {
	Order    domain.Order
	Payments []domain.Payment
}

// CheckoutService places orders and runs payment attempts for a signed-in session.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, session *Session, cmd PlaceOrderCommand) (CheckoutResult, error)
	RetryPayment(ctx context.Context, session *Session, cmd RetryPaymentCommand) (CheckoutResult, error)
}

func nopLogger(context.Context, string, map[string]any) {}
