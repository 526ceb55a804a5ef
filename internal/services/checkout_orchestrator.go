package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/buypoint/checkout/internal/currency"
	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/payments"
	"github.com/buypoint/checkout/internal/platform/idempotency"
	"github.com/buypoint/checkout/internal/repositories"
	"github.com/buypoint/checkout/internal/validation"
)

const (
	orderIDPrefix   = "ord_"
	paymentIDPrefix = "pay_"

	defaultMerchantName        = "BUYPOINT"
	defaultThemeColor          = "#3399cc"
	defaultUPIResultTimeout    = 5 * time.Minute
	defaultEventPublishTimeout = 5 * time.Second

	failureCodeCancelled = "cancelled"
	failureCodeTimeout   = "timeout"
)

var (
	// ErrCheckoutEmptyCart indicates an order was requested for an empty cart.
	ErrCheckoutEmptyCart = fmt.Errorf("checkout: cart is empty: %w", domain.ErrInvalidArgument)
	// ErrCheckoutAddressRequired indicates no shipping address was selected.
	ErrCheckoutAddressRequired = fmt.Errorf("checkout: shipping address is required: %w", domain.ErrInvalidArgument)
	// ErrCheckoutMethodRequired indicates no payment method was selected.
	ErrCheckoutMethodRequired = fmt.Errorf("checkout: payment method is required: %w", domain.ErrInvalidArgument)
	// ErrCheckoutCurrencyUnresolved indicates the order currency could not be determined.
	ErrCheckoutCurrencyUnresolved = fmt.Errorf("checkout: currency could not be resolved: %w", domain.ErrInvalidArgument)
	// ErrAppNotInstalled indicates the chosen UPI app is missing on the shopper's device.
	ErrAppNotInstalled = fmt.Errorf("checkout: upi app not installed: %w", domain.ErrInvalidArgument)
	// ErrCheckoutOrderNotPending indicates a payment retry for an order that is no longer pending.
	ErrCheckoutOrderNotPending = fmt.Errorf("checkout: order is not awaiting payment: %w", domain.ErrConflict)
	// ErrCheckoutDuplicate indicates an idempotency key reused for a different checkout.
	ErrCheckoutDuplicate = fmt.Errorf("checkout: idempotency key reused for a different request: %w", domain.ErrConflict)

	errCheckoutSessionRequired = fmt.Errorf("checkout: session is required: %w", domain.ErrNotAuthenticated)
)

// UPIPayment identifies the payer for a UPI attempt.
type UPIPayment struct {
	VPA string
	App payments.PayerApp
}

// PaymentDetails carries the method-specific input for one payment attempt.
type PaymentDetails struct {
	Method       domain.PaymentMethod
	Card         *domain.CardDetails
	PaymentToken string
	UPI          *UPIPayment
	Email        string
	Phone        string
}

// PlaceOrderCommand turns a cart snapshot into an order and pays for it.
type PlaceOrderCommand struct {
	PaymentDetails
	UserID         string
	Cart           domain.Cart
	Address        *domain.Address
	Currency       string
	IdempotencyKey string
}

// RetryPaymentCommand runs a new payment attempt for an existing pending order.
type RetryPaymentCommand struct {
	PaymentDetails
	UserID         string
	OrderID        string
	IdempotencyKey string
}

// CheckoutResult is the outcome of a checkout call. A declined, failed or cancelled payment
// is reported through Verification, not as an error.
type CheckoutResult struct {
	Order        domain.Order
	Payment      domain.Payment
	Verification domain.VerificationStatus
	Replayed     bool
}

// CheckoutOrchestratorDeps wires the checkout orchestrator.
type CheckoutOrchestratorDeps struct {
	Orders           repositories.OrderRepository
	Payments         repositories.PaymentRepository
	Gateway          payments.CardGateway
	Idempotency      idempotency.Store
	Events           OrderEventPublisher
	Metrics          CheckoutMetrics
	Tracer           trace.Tracer
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
	IDGenerator      func() string
	MerchantName     string
	MerchantVPA      string
	ThemeColor       string
	UPIResultTimeout time.Duration
	IdempotencyTTL   time.Duration
}

type checkoutOrchestrator struct {
	orders       repositories.OrderRepository
	payments     repositories.PaymentRepository
	gateway      payments.CardGateway
	keys         idempotency.Store
	events       OrderEventPublisher
	metrics      CheckoutMetrics
	tracer       trace.Tracer
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
	newID        func() string
	merchantName string
	merchantVPA  string
	themeColor   string
	upiTimeout   time.Duration
	keyTTL       time.Duration
}

// NewCheckoutOrchestrator validates deps and fills defaults.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout orchestrator: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout orchestrator: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout orchestrator: card gateway is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("checkout orchestrator: idempotency store is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/buypoint/checkout/internal/services")
	}
	merchant := strings.TrimSpace(deps.MerchantName)
	if merchant == "" {
		merchant = defaultMerchantName
	}
	theme := strings.TrimSpace(deps.ThemeColor)
	if theme == "" {
		theme = defaultThemeColor
	}
	upiTimeout := deps.UPIResultTimeout
	if upiTimeout <= 0 {
		upiTimeout = defaultUPIResultTimeout
	}

	return &checkoutOrchestrator{
		orders:       deps.Orders,
		payments:     deps.Payments,
		gateway:      deps.Gateway,
		keys:         deps.Idempotency,
		events:       deps.Events,
		metrics:      deps.Metrics,
		tracer:       tracer,
		now:          func() time.Time { return clock().UTC() },
		logger:       logger,
		newID:        idGen,
		merchantName: merchant,
		merchantVPA:  strings.TrimSpace(deps.MerchantVPA),
		themeColor:   theme,
		upiTimeout:   upiTimeout,
		keyTTL:       deps.IdempotencyTTL,
	}, nil
}

// PlaceOrder persists a pending order for the cart snapshot and runs the first payment
// attempt against it.
func (s *checkoutOrchestrator) PlaceOrder(ctx context.Context, session *Session, cmd PlaceOrderCommand) (result CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("checkout.method", string(cmd.Method)),
	))
	defer func() { endSpan(span, err) }()

	userID, err := sessionUser(session, cmd.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}

	switch {
	case cmd.Cart.IsEmpty():
		return CheckoutResult{}, ErrCheckoutEmptyCart
	case cmd.Address == nil:
		return CheckoutResult{}, ErrCheckoutAddressRequired
	case strings.TrimSpace(string(cmd.Method)) == "":
		return CheckoutResult{}, ErrCheckoutMethodRequired
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if code == "" {
		code = currency.Resolve(cmd.Address.Country)
	}
	if !currency.Known(code) {
		return CheckoutResult{}, ErrCheckoutCurrencyUnresolved
	}

	address := *cmd.Address
	if err := validation.Address(address); err != nil {
		return CheckoutResult{}, err
	}
	details, err := s.validatePayment(ctx, session, cmd.PaymentDetails)
	if err != nil {
		return CheckoutResult{}, err
	}

	lines := snapshotLines(cmd.Cart.Items)
	var total int64
	for _, line := range lines {
		total += line.Subtotal()
	}

	if !session.acquireCheckout() {
		return CheckoutResult{}, ErrCheckoutInFlight
	}
	defer session.releaseCheckout()

	fingerprint := idempotency.Fingerprint(append([]string{
		userID, code, string(details.Method), address.ID, address.Street, address.PostalCode, address.Country,
	}, lineFingerprint(lines)...)...)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = "checkout:" + userID + ":" + cartInstanceKey(cmd.Cart, fingerprint)
	}
	replay, ok, err := s.reserve(ctx, key, fingerprint)
	if err != nil || ok {
		return replay, err
	}

	now := s.now()
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Lines:           lines,
		Total:           total,
		Currency:        code,
		Status:          domain.OrderStatusPending,
		ShippingAddress: address,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.release(ctx, key, fingerprint)
		return CheckoutResult{}, repositories.Translate(err)
	}
	span.SetAttributes(attribute.String("checkout.order_id", order.ID))
	if s.metrics != nil {
		s.metrics.OrderCreated(ctx, order.Currency)
	}
	s.logger(ctx, "checkout.order.created", map[string]any{
		"userID":   userID,
		"orderID":  order.ID,
		"total":    order.Total,
		"currency": order.Currency,
	})
	s.publish(ctx, OrderEvent{
		Type:       EventOrderCreated,
		OrderID:    order.ID,
		UserID:     userID,
		Method:     string(details.Method),
		Amount:     order.Total,
		Currency:   order.Currency,
		OccurredAt: now,
	})

	result, err = s.attempt(ctx, session, order, details)
	s.finish(ctx, key, fingerprint, result, err)
	return result, err
}

// RetryPayment runs another payment attempt for a pending order. The shipping address was
// validated when the order was placed and is not checked again.
func (s *checkoutOrchestrator) RetryPayment(ctx context.Context, session *Session, cmd RetryPaymentCommand) (result CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.RetryPayment", trace.WithAttributes(
		attribute.String("checkout.method", string(cmd.Method)),
		attribute.String("checkout.order_id", cmd.OrderID),
	))
	defer func() { endSpan(span, err) }()

	userID, err := sessionUser(session, cmd.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CheckoutResult{}, fmt.Errorf("checkout: order id is required: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(string(cmd.Method)) == "" {
		return CheckoutResult{}, ErrCheckoutMethodRequired
	}
	details, err := s.validatePayment(ctx, session, cmd.PaymentDetails)
	if err != nil {
		return CheckoutResult{}, err
	}

	if !session.acquireCheckout() {
		return CheckoutResult{}, ErrCheckoutInFlight
	}
	defer session.releaseCheckout()

	order, err := s.orders.Get(ctx, userID, orderID)
	if err != nil {
		return CheckoutResult{}, repositories.Translate(err)
	}

	fingerprint := idempotency.Fingerprint(userID, order.ID, string(details.Method))
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = "checkout-retry:" + userID + ":" + order.ID
	}
	replay, ok, err := s.reserve(ctx, key, fingerprint)
	if err != nil || ok {
		return replay, err
	}
	if order.Status != domain.OrderStatusPending {
		s.release(ctx, key, fingerprint)
		return CheckoutResult{}, ErrCheckoutOrderNotPending
	}

	result, err = s.attempt(ctx, session, order, details)
	s.finish(ctx, key, fingerprint, result, err)
	return result, err
}

// reserve claims key. It reports ok when a stored result should be returned instead of
// running the checkout.
func (s *checkoutOrchestrator) reserve(ctx context.Context, key, fingerprint string) (CheckoutResult, bool, error) {
	reservation, err := s.keys.Reserve(ctx, key, fingerprint, s.now(), s.keyTTL)
	switch {
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		return CheckoutResult{}, false, ErrCheckoutDuplicate
	case err != nil:
		return CheckoutResult{}, false, fmt.Errorf("checkout: reserve idempotency key: %w", repositories.Translate(err))
	}

	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		var stored CheckoutResult
		if err := json.Unmarshal(reservation.Record.Result, &stored); err != nil {
			return CheckoutResult{}, false, fmt.Errorf("checkout: decode stored result: %w: %w", domain.ErrInternal, err)
		}
		stored.Replayed = true
		s.logger(ctx, "checkout.replayed", map[string]any{"orderID": stored.Order.ID})
		return stored, true, nil
	case idempotency.ReservationStatePending:
		return CheckoutResult{}, false, ErrCheckoutInFlight
	default:
		return CheckoutResult{}, false, nil
	}
}

// finish stores a successful result for replay and frees the key otherwise, so a failed
// or cancelled attempt can be followed by a fresh one.
func (s *checkoutOrchestrator) finish(ctx context.Context, key, fingerprint string, result CheckoutResult, err error) {
	if err != nil || result.Verification != domain.VerificationSuccess {
		s.release(ctx, key, fingerprint)
		return
	}
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		marshalErr = s.keys.Complete(context.WithoutCancel(ctx), key, fingerprint, payload, s.now(), s.keyTTL)
	}
	if marshalErr != nil {
		s.logger(ctx, "checkout.idempotency.complete_failed", map[string]any{"orderID": result.Order.ID, "error": marshalErr.Error()})
	}
}

func (s *checkoutOrchestrator) release(ctx context.Context, key, fingerprint string) {
	if err := s.keys.Release(context.WithoutCancel(ctx), key, fingerprint); err != nil {
		s.logger(ctx, "checkout.idempotency.release_failed", map[string]any{"error": err.Error()})
	}
}

// attempt dispatches one payment for order and records its outcome.
func (s *checkoutOrchestrator) attempt(ctx context.Context, session *Session, order domain.Order, details PaymentDetails) (CheckoutResult, error) {
	attemptID := s.newID()
	session.Verification.Begin(order.ID, details.Method)

	var outcome paymentOutcome
	if details.Method == domain.PaymentMethodUPI {
		outcome = s.payWithUPI(ctx, session, order, details)
	} else {
		outcome = s.payWithGateway(ctx, order, details, attemptID)
	}

	payment := domain.Payment{
		ID:             outcome.paymentID,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Total,
		Currency:       order.Currency,
		Method:         details.Method,
		GatewayRef:     outcome.gatewayRef,
		FailureCode:    outcome.failureCode,
		FailureMessage: outcome.failureMessage,
		CreatedAt:      s.now(),
	}
	if payment.ID == "" {
		payment.ID = paymentIDPrefix + attemptID
	}

	if outcome.status == domain.VerificationSuccess {
		payment.Status = domain.PaymentStatusSuccess
		confirmed, err := s.payments.ConfirmPayment(ctx, payment, payment.CreatedAt)
		if err != nil {
			translated := repositories.Translate(err)
			session.Verification.Resolve(order.ID, domain.VerificationFailed, payment.ID, "Could not confirm payment")
			s.logger(ctx, "checkout.payment.confirm_failed", map[string]any{
				"orderID":   order.ID,
				"paymentID": payment.ID,
				"error":     err.Error(),
			})
			return CheckoutResult{Order: order, Payment: payment, Verification: domain.VerificationFailed}, translated
		}
		session.Verification.Resolve(order.ID, domain.VerificationSuccess, payment.ID, "")
		if s.metrics != nil {
			s.metrics.PaymentOutcome(ctx, string(payment.Method), "success", payment.Currency, payment.Amount)
		}
		s.logger(ctx, "checkout.order.confirmed", map[string]any{"orderID": order.ID, "paymentID": payment.ID})
		s.publish(ctx, OrderEvent{
			Type:       EventOrderConfirmed,
			OrderID:    order.ID,
			UserID:     order.UserID,
			PaymentID:  payment.ID,
			Method:     string(payment.Method),
			Amount:     payment.Amount,
			Currency:   payment.Currency,
			OccurredAt: payment.CreatedAt,
		})
		if err := session.Cart.Clear(ctx); err != nil {
			s.logger(ctx, "checkout.cart.clear_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		}
		return CheckoutResult{Order: confirmed, Payment: payment, Verification: domain.VerificationSuccess}, nil
	}

	payment.Status = domain.PaymentStatusFailed
	if err := s.payments.Insert(ctx, payment); err != nil {
		session.Verification.Resolve(order.ID, outcome.status, payment.ID, payment.FailureMessage)
		return CheckoutResult{Order: order, Payment: payment, Verification: outcome.status}, repositories.Translate(err)
	}
	session.Verification.Resolve(order.ID, outcome.status, payment.ID, payment.FailureMessage)
	if s.metrics != nil {
		s.metrics.PaymentOutcome(ctx, string(payment.Method), string(outcome.status), payment.Currency, payment.Amount)
	}
	s.logger(ctx, "checkout.payment.failed", map[string]any{
		"orderID":     order.ID,
		"paymentID":   payment.ID,
		"status":      string(outcome.status),
		"failureCode": payment.FailureCode,
	})
	s.publish(ctx, OrderEvent{
		Type:        EventPaymentFailed,
		OrderID:     order.ID,
		UserID:      order.UserID,
		PaymentID:   payment.ID,
		Method:      string(payment.Method),
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		FailureCode: payment.FailureCode,
		OccurredAt:  payment.CreatedAt,
	})
	return CheckoutResult{Order: order, Payment: payment, Verification: outcome.status}, nil
}

type paymentOutcome struct {
	status         domain.VerificationStatus
	paymentID      string
	gatewayRef     string
	failureCode    string
	failureMessage string
}

func (s *checkoutOrchestrator) payWithGateway(ctx context.Context, order domain.Order, details PaymentDetails, attemptID string) paymentOutcome {
	intent := payments.IntentDescriptor{
		OrderID:        order.ID,
		MerchantName:   s.merchantName,
		Description:    "Order #" + order.ID,
		Amount:         order.Total,
		Currency:       order.Currency,
		Method:         details.Method,
		Card:           details.Card,
		PaymentToken:   details.PaymentToken,
		Email:          details.Email,
		Phone:          details.Phone,
		ThemeColor:     s.themeColor,
		IdempotencyKey: paymentIDPrefix + attemptID,
	}
	res, err := s.gateway.Open(ctx, intent)
	if err != nil {
		out := paymentOutcome{status: domain.VerificationFailed, failureCode: string(domain.KindOf(err)), failureMessage: "Payment failed"}
		var gwErr *payments.GatewayError
		if errors.As(err, &gwErr) {
			if gwErr.Code != "" {
				out.failureCode = gwErr.Code
			}
			if gwErr.Message != "" {
				out.failureMessage = gwErr.Message
			}
		}
		s.logger(ctx, "checkout.gateway.error", map[string]any{"orderID": order.ID, "error": err.Error()})
		return out
	}

	out := paymentOutcome{paymentID: res.PaymentID, gatewayRef: res.PaymentID}
	if res.Status == payments.StatusSucceeded {
		out.status = domain.VerificationSuccess
		return out
	}
	out.status = domain.VerificationFailed
	out.failureCode = res.FailureCode
	out.failureMessage = res.FailureMessage
	if out.failureMessage == "" {
		out.failureMessage = "Payment failed"
	}
	return out
}

func (s *checkoutOrchestrator) payWithUPI(ctx context.Context, session *Session, order domain.Order, details PaymentDetails) paymentOutcome {
	app := details.UPI.App
	link := payments.BuildDeepLink(payments.DeepLinkRequest{
		PayeeVPA:  s.merchantVPA,
		PayeeName: s.merchantName,
		Amount:    order.Total,
		Currency:  order.Currency,
		OrderID:   order.ID,
	})
	pending, err := session.Launcher.Launch(ctx, payments.LaunchRequest{
		OrderID:   order.ID,
		App:       app,
		Package:   app.Package(),
		Link:      link,
		StartedAt: s.now(),
	})
	if err != nil {
		s.logger(ctx, "checkout.upi.launch_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		return paymentOutcome{status: domain.VerificationFailed, failureCode: "launch_failed", failureMessage: "Could not open " + string(app)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.upiTimeout)
	defer cancel()
	activity, err := pending.Wait(waitCtx)
	if err != nil {
		pending.Resolve(payments.ActivityResult{Code: payments.ResultCanceled})
		return paymentOutcome{status: domain.VerificationFailed, failureCode: failureCodeTimeout, failureMessage: "Payment processing timed out"}
	}

	result := payments.ParseUPIResponse(activity).Reconcile(order.ID, order.Total, order.Currency)
	out := paymentOutcome{status: result.Status, gatewayRef: result.TxnID}
	switch result.Status {
	case domain.VerificationSuccess:
	case domain.VerificationCancelled:
		out.failureCode = failureCodeCancelled
		out.failureMessage = "Payment cancelled"
	default:
		out.status = domain.VerificationFailed
		out.failureCode = "upi_failed"
		out.failureMessage = result.Reason
	}
	return out
}

func (s *checkoutOrchestrator) validatePayment(ctx context.Context, session *Session, details PaymentDetails) (PaymentDetails, error) {
	switch {
	case details.Method.IsCard():
		details.PaymentToken = strings.TrimSpace(details.PaymentToken)
		if details.PaymentToken != "" && details.Card == nil {
			return details, nil
		}
		if details.Card == nil {
			return details, &validation.Error{Field: validation.FieldCardNumber, Message: "Card details are required"}
		}
		if err := validation.Card(*details.Card, s.now()); err != nil {
			return details, err
		}
		card := *details.Card
		card.Number = validation.NormalizeCardNumber(card.Number)
		card.CVV = strings.TrimSpace(card.CVV)
		card.HolderName = strings.TrimSpace(card.HolderName)
		details.Card = &card
	case details.Method == domain.PaymentMethodUPI:
		if details.UPI == nil {
			return details, validation.UPIID("")
		}
		if err := validation.UPIID(details.UPI.VPA); err != nil {
			return details, err
		}
		app, err := payments.ParsePayerApp(string(details.UPI.App))
		if err != nil {
			return details, &validation.Error{Field: "upiApp", Message: "Select a UPI app"}
		}
		if !session.Launcher.IsInstalled(ctx, app) {
			return details, ErrAppNotInstalled
		}
		details.UPI = &UPIPayment{VPA: strings.TrimSpace(details.UPI.VPA), App: app}
	case details.Method == domain.PaymentMethodNetBanking:
		details.PaymentToken = strings.TrimSpace(details.PaymentToken)
		if details.PaymentToken == "" {
			return details, &validation.Error{Field: "paymentToken", Message: "Select a bank"}
		}
	default:
		return details, &validation.Error{Field: "paymentMethod", Message: "Unsupported payment method"}
	}
	return details, nil
}

func (s *checkoutOrchestrator) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultEventPublishTimeout)
	defer cancel()
	if _, err := s.events.PublishOrderEvent(pctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"type":    event.Type,
			"orderID": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func sessionUser(session *Session, userID string) (string, error) {
	if session == nil {
		return "", errCheckoutSessionRequired
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = session.UserID
	}
	if userID != session.UserID {
		return "", errCheckoutSessionRequired
	}
	return userID, nil
}

func snapshotLines(items []domain.CartItem) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.OrderLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines
}

func lineFingerprint(lines []domain.OrderLine) []string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, line.ProductID+"x"+strconv.Itoa(line.Quantity)+"@"+strconv.FormatInt(line.UnitPrice, 10))
	}
	return parts
}

// cartInstanceKey scopes a derived idempotency key to one filling of the cart. Item ids are
// minted on Add, so a cart refilled after a confirmed order yields a new key.
func cartInstanceKey(cart domain.Cart, fingerprint string) string {
	parts := make([]string, 0, len(cart.Items)+2)
	parts = append(parts, fingerprint, strconv.FormatInt(cart.UpdatedAt.UnixNano(), 10))
	for _, item := range cart.Items {
		parts = append(parts, item.ID)
	}
	return idempotency.Fingerprint(parts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(domain.KindOf(err)))
	}
	span.End()
}
