package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/buypoint/checkout/internal/domain"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/platform/pagination"
	"github.com/buypoint/checkout/internal/repositories"
)

const (
	ordersCollectionPattern = "users/%s/orders"
	defaultOrderListLimit   = 50
)

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type orderDocument struct {
	UserID          string              `firestore:"userId"`
	Lines           []orderLineDocument `firestore:"lines"`
	Total           int64               `firestore:"total"`
	Currency        string              `firestore:"currency"`
	Status          string              `firestore:"status"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	ShippingAddrID  string              `firestore:"shippingAddressId,omitempty"`
	IdempotencyKey  string              `firestore:"idempotencyKey,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

// OrderRepository persists orders under users/{uid}/orders.
type OrderRepository struct {
	orders   *pfirestore.ScopedCollection[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders:   pfirestore.NewScopedCollection[orderDocument](provider, ordersCollectionPattern, nil, nil),
		provider: provider,
	}, nil
}

// Insert creates the order document; an existing id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.Doc(ctx, order.UserID, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Get loads a single order.
func (r *OrderRepository) Get(ctx context.Context, userID string, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, userID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns the user's most recent orders first. Ties on createdAt are broken by
// document id so the cursor is stable.
func (r *OrderRepository) List(ctx context.Context, userID string, limit int, after pagination.Cursor) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	docs, err := r.orders.Query(ctx, userID, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !after.IsZero() {
			q = q.StartAfter(after.CreatedAt, after.ID)
		}
		return q.Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// UpdateStatus moves the order from one status to the next inside a transaction, so a
// concurrent payment confirmation and a cancellation cannot both win.
func (r *OrderRepository) UpdateStatus(ctx context.Context, userID string, orderID string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	ref, err := r.orders.Doc(ctx, userID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		current := domain.OrderStatus(doc.Data.Status)
		if current != from {
			return pfirestore.Conflict("orders.updateStatus", fmt.Sprintf("order is %s, expected %s", current, from))
		}
		if !domain.CanTransition(from, to) {
			return pfirestore.Conflict("orders.updateStatus", fmt.Sprintf("cannot move order from %s to %s", from, to))
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: at.UTC()},
		}); err != nil {
			return err
		}
		doc.Data.Status = string(to)
		doc.Data.UpdatedAt = at.UTC()
		updated = doc.Data.toDomain(doc.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return updated, nil
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return orderDocument{
		UserID:          order.UserID,
		Lines:           lines,
		Total:           order.Total,
		Currency:        strings.ToUpper(order.Currency),
		Status:          string(order.Status),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		ShippingAddrID:  order.ShippingAddress.ID,
		IdempotencyKey:  order.IdempotencyKey,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return domain.Order{
		ID:              id,
		UserID:          d.UserID,
		Lines:           lines,
		Total:           d.Total,
		Currency:        d.Currency,
		Status:          domain.OrderStatus(d.Status),
		ShippingAddress: d.ShippingAddress.toDomain(d.ShippingAddrID),
		IdempotencyKey:  d.IdempotencyKey,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
