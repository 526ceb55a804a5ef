package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/pagination"
	"github.com/buypoint/checkout/internal/repositories"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var (
	errOrderUserRequired = fmt.Errorf("order history: user id is required: %w", domain.ErrNotAuthenticated)

	// ErrOrderNotCancellable indicates a cancel request for an order that is no longer pending.
	ErrOrderNotCancellable = fmt.Errorf("order history: only pending orders can be cancelled: %w", domain.ErrConflict)
)

// OrderHistoryServiceDeps wires the order history service. Events and Clock are optional.
type OrderHistoryServiceDeps struct {
	Orders   repositories.OrderRepository
	Payments repositories.PaymentRepository
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderHistoryService struct {
	orders   repositories.OrderRepository
	payments repositories.PaymentRepository
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderHistoryService constructs an OrderHistoryService.
func NewOrderHistoryService(deps OrderHistoryServiceDeps) (OrderHistoryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order history: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order history: payment repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &orderHistoryService{
		orders:   deps.Orders,
		payments: deps.Payments,
		events:   deps.Events,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// ListOrders returns one page of the user's orders, newest first.
func (s *orderHistoryService) ListOrders(ctx context.Context, userID string, page pagination.Params) (OrderPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return OrderPage{}, errOrderUserRequired
	}
	size := page.PageSize
	switch {
	case size <= 0:
		size = defaultOrderPageSize
	case size > maxOrderPageSize:
		size = maxOrderPageSize
	}
	// One extra row tells whether another page exists.
	orders, err := s.orders.List(ctx, userID, size+1, page.Cursor)
	if err != nil {
		return OrderPage{}, repositories.Translate(err)
	}
	if len(orders) <= size {
		return OrderPage{Orders: orders}, nil
	}
	orders = orders[:size]
	last := orders[size-1]
	token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	if err != nil {
		return OrderPage{}, fmt.Errorf("order history: %w", err)
	}
	return OrderPage{Orders: orders, NextPageToken: token}, nil
}

// GetOrder returns one order with its payment attempts.
func (s *orderHistoryService) GetOrder(ctx context.Context, userID, orderID string) (OrderDetail, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return OrderDetail{}, errOrderUserRequired
	}
	if orderID == "" {
		return OrderDetail{}, fmt.Errorf("order history: order id is required: %w", domain.ErrInvalidArgument)
	}
	order, err := s.orders.Get(ctx, userID, orderID)
	if err != nil {
		return OrderDetail{}, repositories.Translate(err)
	}
	payments, err := s.payments.ListByOrder(ctx, userID, orderID)
	if err != nil {
		return OrderDetail{}, repositories.Translate(err)
	}
	return OrderDetail{Order: order, Payments: payments}, nil
}

// CancelOrder abandons a pending order. Confirmed orders have been paid for and are refused.
func (s *orderHistoryService) CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return domain.Order{}, errOrderUserRequired
	}
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("order history: order id is required: %w", domain.ErrInvalidArgument)
	}
	order, err := s.orders.Get(ctx, userID, orderID)
	if err != nil {
		return domain.Order{}, repositories.Translate(err)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, ErrOrderNotCancellable
	}

	now := s.now()
	cancelled, err := s.orders.UpdateStatus(ctx, userID, orderID, domain.OrderStatusPending, domain.OrderStatusCancelled, now)
	if err != nil {
		translated := repositories.Translate(err)
		if errors.Is(translated, domain.ErrConflict) {
			// A payment confirmed the order between the read and the update.
			return domain.Order{}, ErrOrderNotCancellable
		}
		return domain.Order{}, translated
	}
	s.logger(ctx, "orders.cancelled", map[string]any{"userID": userID, "orderID": orderID})
	if s.events != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultEventPublishTimeout)
		defer cancel()
		if _, err := s.events.PublishOrderEvent(pctx, OrderEvent{
			Type:       EventOrderCancelled,
			OrderID:    cancelled.ID,
			UserID:     userID,
			Amount:     cancelled.Total,
			Currency:   cancelled.Currency,
			OccurredAt: now,
		}); err != nil {
			s.logger(ctx, "orders.event.publish_failed", map[string]any{"orderID": orderID, "error": err.Error()})
		}
	}
	return cancelled, nil
}
