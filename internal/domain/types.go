package domain

import (
	"time"
)

// Product is the catalogue entry a shopper adds to the cart. Prices are in hundredths of
// the display currency.
type Product struct {
	ID       string
	Name     string
	Price    int64
	ImageURL string
}

// CartItem stores a single product entry within a cart.
type CartItem struct {
	ID        string
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	ImageURL  string
}

// Subtotal returns unit price multiplied by quantity.
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Cart aggregates the shopping cart state for a user.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// Total sums every item subtotal.
func (c Cart) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Address is a shipping destination saved by a user.
type Address struct {
	ID         string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is persisted and awaits a successful payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment succeeded.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped indicates the order has left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

// CanTransition reports whether the order may move from one status to the next.
// Transitions only move forward; nothing returns to pending.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine is a snapshot copy of a cart item taken when the order was placed.
type OrderLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Subtotal returns unit price multiplied by quantity.
func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order captures a placed order. Only Status and UpdatedAt change after creation.
type Order struct {
	ID              string
	UserID          string
	Lines           []OrderLine
	Total           int64
	Currency        string
	Status          OrderStatus
	ShippingAddress Address
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentMethod enumerates supported ways to pay.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "net_banking"
)

// IsCard reports whether the method is backed by card details.
func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodCreditCard || m == PaymentMethodDebitCard
}

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodUPI, PaymentMethodNetBanking:
		return true
	default:
		return false
	}
}

// PaymentStatus enumerates payment record states.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment records one payment attempt against an order.
type Payment struct {
	ID             string
	OrderID        string
	UserID         string
	Amount         int64
	Currency       string
	Method         PaymentMethod
	Status         PaymentStatus
	GatewayRef     string
	FailureCode    string
	FailureMessage string
	CreatedAt      time.Time
}

// CardDetails carries the card fields entered at checkout.
type CardDetails struct {
	Number      string
	ExpiryMonth int
	ExpiryYear  int
	CVV         string
	HolderName  string
}

// VerificationStatus summarises the progress of a single payment flow.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationPending    VerificationStatus = "pending"
	VerificationSuccess    VerificationStatus = "success"
	VerificationFailed     VerificationStatus = "failed"
	VerificationCancelled  VerificationStatus = "cancelled"
)

// Terminal reports whether no further automatic transition can happen.
func (s VerificationStatus) Terminal() bool {
	return s == VerificationSuccess || s == VerificationFailed || s == VerificationCancelled
}
