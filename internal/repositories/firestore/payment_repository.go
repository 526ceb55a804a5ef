package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/buypoint/checkout/internal/domain"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/repositories"
)

const paymentsCollectionPattern = "users/%s/payments"

type paymentDocument struct {
	OrderID        string    `firestore:"orderId"`
	UserID         string    `firestore:"userId"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	Method         string    `firestore:"method"`
	Status         string    `firestore:"status"`
	GatewayRef     string    `firestore:"gatewayRef,omitempty"`
	FailureCode    string    `firestore:"failureCode,omitempty"`
	FailureMessage string    `firestore:"failureMessage,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

// PaymentRepository persists payment attempts under users/{uid}/payments.
type PaymentRepository struct {
	payments *pfirestore.ScopedCollection[paymentDocument]
	orders   *pfirestore.ScopedCollection[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		payments: pfirestore.NewScopedCollection[paymentDocument](provider, paymentsCollectionPattern, nil, nil),
		orders:   pfirestore.NewScopedCollection[orderDocument](provider, ordersCollectionPattern, nil, nil),
		provider: provider,
	}, nil
}

// Insert records a non-successful attempt. Successful payments go through ConfirmPayment.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if payment.Status == domain.PaymentStatusSuccess {
		return errors.New("payment repository: successful payments must be confirmed")
	}
	ref, err := r.payments.Doc(ctx, payment.UserID, payment.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

// ListByOrder returns the attempts made for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, userID string, orderID string) ([]domain.Payment, error) {
	docs, err := r.payments.Query(ctx, userID, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}
	return payments, nil
}

// ConfirmPayment writes the success record and confirms the order in one transaction.
func (r *PaymentRepository) ConfirmPayment(ctx context.Context, payment domain.Payment, at time.Time) (domain.Order, error) {
	payment.Status = domain.PaymentStatusSuccess
	paymentRef, err := r.payments.Doc(ctx, payment.UserID, payment.ID)
	if err != nil {
		return domain.Order{}, err
	}
	orderRef, err := r.orders.Doc(ctx, payment.UserID, payment.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	paymentsColl, err := r.payments.Collection(ctx, payment.UserID)
	if err != nil {
		return domain.Order{}, err
	}

	var confirmed domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		order, err := r.orders.Decode(orderSnap)
		if err != nil {
			return err
		}
		existing, err := tx.Documents(paymentsColl.
			Where("orderId", "==", payment.OrderID).
			Where("status", "==", string(domain.PaymentStatusSuccess)).
			Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return pfirestore.Conflict("payments.confirm", "order already has a successful payment")
		}
		if domain.OrderStatus(order.Data.Status) != domain.OrderStatusPending {
			return pfirestore.Conflict("payments.confirm", "order is not pending")
		}

		if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
			return err
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusConfirmed)},
			{Path: "updatedAt", Value: at.UTC()},
		}); err != nil {
			return err
		}
		order.Data.Status = string(domain.OrderStatusConfirmed)
		order.Data.UpdatedAt = at.UTC()
		confirmed = order.Data.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("payments.confirm", err)
	}
	return confirmed, nil
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		Method:         string(p.Method),
		Status:         string(p.Status),
		GatewayRef:     p.GatewayRef,
		FailureCode:    p.FailureCode,
		FailureMessage: p.FailureMessage,
		CreatedAt:      p.CreatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:             id,
		OrderID:        d.OrderID,
		UserID:         d.UserID,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Method:         domain.PaymentMethod(d.Method),
		Status:         domain.PaymentStatus(d.Status),
		GatewayRef:     d.GatewayRef,
		FailureCode:    d.FailureCode,
		FailureMessage: d.FailureMessage,
		CreatedAt:      d.CreatedAt,
	}
}
