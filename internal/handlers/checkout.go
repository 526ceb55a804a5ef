package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/payments"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/httpx"
	"github.com/buypoint/checkout/internal/services"
)

const (
	maxCheckoutRequestBody   = 8 * 1024
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultLaunchPoll        = 50 * time.Millisecond
)

// CheckoutHandlers exposes order placement, payment retry and the device relay used by
// UPI payer apps.
type CheckoutHandlers struct {
	authn     *auth.Authenticator
	sessions  SessionProvider
	checkout  services.CheckoutService
	addresses services.AddressService

	idempotencyHeader string
	launchPoll        time.Duration
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithIdempotencyHeader overrides the request header carrying the idempotency key.
func WithIdempotencyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			h.idempotencyHeader = trimmed
		}
	}
}

// WithLaunchPollInterval sets how often a UPI checkout checks for its pending launch.
func WithLaunchPollInterval(d time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if d > 0 {
			h.launchPoll = d
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, sessions SessionProvider, checkout services.CheckoutService, addresses services.AddressService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:             authn,
		sessions:          sessions,
		checkout:          checkout,
		addresses:         addresses,
		idempotencyHeader: defaultIdempotencyHeader,
		launchPoll:        defaultLaunchPoll,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout/orders", h.placeOrder)
	group.Post("/checkout/orders/{orderId}/payments", h.retryPayment)
	group.Get("/checkout/verification", h.getVerification)
	group.Post("/checkout/verification:dismiss", h.dismissVerification)
	group.Post("/checkout/upi/result", h.relayUPIResult)
	group.Put("/checkout/upi/apps", h.setInstalledApps)
}

type paymentRequest struct {
	Method       string             `json:"method"`
	Card         *cardRequest       `json:"card,omitempty"`
	PaymentToken string             `json:"paymentToken,omitempty"`
	UPI          *upiPaymentRequest `json:"upi,omitempty"`
}

type cardRequest struct {
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holderName"`
}

type upiPaymentRequest struct {
	VPA string `json:"vpa"`
	App string `json:"app"`
}

type placeOrderRequest struct {
	AddressID string          `json:"addressId,omitempty"`
	Address   *addressRequest `json:"address,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Payment   paymentRequest  `json:"payment"`
}

type retryPaymentRequest struct {
	Payment paymentRequest `json:"payment"`
}

type upiResultRequest struct {
	OrderID    string `json:"orderId"`
	ResultCode string `json:"resultCode"`
	Response   string `json:"response"`
}

type installedAppsRequest struct {
	Apps []string `json:"apps"`
}

type checkoutResponse struct {
	Order        orderPayload    `json:"order"`
	Payment      *paymentPayload `json:"payment,omitempty"`
	Verification string          `json:"verification"`
	Replayed     bool            `json:"replayed,omitempty"`
}

type upiLaunchPayload struct {
	OrderID   string `json:"orderId"`
	App       string `json:"app"`
	Package   string `json:"package"`
	Link      string `json:"link"`
	StartedAt string `json:"startedAt,omitempty"`
}

type launchPendingResponse struct {
	OrderID      string           `json:"orderId"`
	Verification string           `json:"verification"`
	UPILaunch    upiLaunchPayload `json:"upiLaunch"`
}

type verificationResponse struct {
	Status           string            `json:"status"`
	OrderID          string            `json:"orderId,omitempty"`
	Method           string            `json:"method,omitempty"`
	PaymentID        string            `json:"paymentId,omitempty"`
	Message          string            `json:"message,omitempty"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
	CheckoutInFlight bool              `json:"checkoutInFlight"`
	UPILaunch        *upiLaunchPayload `json:"upiLaunch,omitempty"`
}

func (req paymentRequest) toDetails(ctx context.Context, identity *auth.Identity) services.PaymentDetails {
	details := services.PaymentDetails{
		Method:       domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		PaymentToken: strings.TrimSpace(req.PaymentToken),
	}
	if req.Card != nil {
		details.Card = &domain.CardDetails{
			Number:      req.Card.Number,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CVV:         req.Card.CVV,
			HolderName:  strings.TrimSpace(req.Card.HolderName),
		}
	}
	if req.UPI != nil {
		details.UPI = &services.UPIPayment{
			VPA: strings.TrimSpace(req.UPI.VPA),
			App: payments.PayerApp(strings.TrimSpace(req.UPI.App)),
		}
	}
	details.Email, details.Phone = identity.Contact(ctx)
	return details
}

func (h *CheckoutHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.checkout == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decodeBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	ctx := r.Context()

	var address *domain.Address
	switch {
	case req.Address != nil:
		addr := req.Address.toDomain("")
		address = &addr
	case strings.TrimSpace(req.AddressID) != "":
		if h.addresses == nil {
			httpx.WriteError(ctx, w, httpx.NewError("address_service_unavailable", "address service is unavailable", http.StatusServiceUnavailable))
			return
		}
		addr, err := h.addresses.GetAddress(ctx, identity.UID, req.AddressID)
		if err != nil {
			httpx.WriteServiceError(ctx, w, err)
			return
		}
		address = &addr
	}

	cmd := services.PlaceOrderCommand{
		PaymentDetails: req.Payment.toDetails(ctx, identity),
		UserID:         identity.UID,
		Cart:           session.Cart.Snapshot(),
		Address:        address,
		Currency:       strings.TrimSpace(req.Currency),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.idempotencyHeader)),
	}
	h.runAttempt(w, r, session, "", http.StatusCreated, func(ctx context.Context) (services.CheckoutResult, error) {
		return h.checkout.PlaceOrder(ctx, session, cmd)
	})
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	var req retryPaymentRequest
	if !decodeBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	cmd := services.RetryPaymentCommand{
		PaymentDetails: req.Payment.toDetails(r.Context(), identity),
		UserID:         identity.UID,
		OrderID:        orderID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.idempotencyHeader)),
	}
	h.runAttempt(w, r, session, orderID, http.StatusOK, func(ctx context.Context) (services.CheckoutResult, error) {
		return h.checkout.RetryPayment(ctx, session, cmd)
	})
}

type attemptOutcome struct {
	result services.CheckoutResult
	err    error
}

// runAttempt executes call on the session so a payment is never abandoned with the request.
// The response is written when the attempt finishes or, for UPI, as soon as the device has
// a launch to perform; the device then follows the attempt through /checkout/verification.
// Only a launch started by this attempt is reported: one already pending when the request
// arrived belongs to another attempt, and orderID, when known, must match.
func (h *CheckoutHandlers) runAttempt(w http.ResponseWriter, r *http.Request, session *services.Session, orderID string, created int, call func(ctx context.Context) (services.CheckoutResult, error)) {
	reqCtx := r.Context()
	if session.CheckoutInFlight() {
		httpx.WriteServiceError(reqCtx, w, services.ErrCheckoutInFlight)
		return
	}
	earlier, hadEarlier := session.Launcher.Pending()

	done := make(chan attemptOutcome, 1)
	session.Go(func(sessionCtx context.Context) {
		ctx, cancel := context.WithCancel(context.WithoutCancel(reqCtx))
		defer cancel()
		stop := context.AfterFunc(sessionCtx, cancel)
		defer stop()

		result, err := call(ctx)
		done <- attemptOutcome{result: result, err: err}
	})

	ticker := time.NewTicker(h.launchPoll)
	defer ticker.Stop()
	for {
		select {
		case out := <-done:
			h.writeOutcome(w, r, out, created)
			return
		case <-ticker.C:
			launch, ok := session.Launcher.Pending()
			if !ok || (hadEarlier && launch == earlier) || (orderID != "" && launch.OrderID != orderID) {
				continue
			}
			setNoStore(w)
			writeJSONResponse(w, http.StatusAccepted, launchPendingResponse{
				OrderID:      launch.OrderID,
				Verification: string(domain.VerificationPending),
				UPILaunch:    buildLaunchPayload(launch),
			})
			return
		case <-reqCtx.Done():
			return
		}
	}
}

func (h *CheckoutHandlers) writeOutcome(w http.ResponseWriter, r *http.Request, out attemptOutcome, created int) {
	if out.err != nil {
		httpx.WriteServiceError(r.Context(), w, out.err)
		return
	}
	status := created
	if out.result.Replayed {
		status = http.StatusOK
	}
	resp := checkoutResponse{
		Order:        buildOrderPayload(out.result.Order, requestLanguage(r)),
		Verification: string(out.result.Verification),
		Replayed:     out.result.Replayed,
	}
	if out.result.Payment.ID != "" {
		payment := buildPaymentPayload(out.result.Payment)
		resp.Payment = &payment
	}
	setNoStore(w)
	writeJSONResponse(w, status, resp)
}

func (h *CheckoutHandlers) getVerification(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	current := session.Verification.Current()
	resp := verificationResponse{
		Status:           string(current.Status),
		OrderID:          current.OrderID,
		Method:           string(current.Method),
		PaymentID:        current.PaymentID,
		Message:          current.Message,
		UpdatedAt:        formatTime(current.UpdatedAt),
		CheckoutInFlight: session.CheckoutInFlight(),
	}
	if launch, ok := session.Launcher.Pending(); ok {
		payload := buildLaunchPayload(launch)
		resp.UPILaunch = &payload
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) dismissVerification(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	if err := session.Verification.Dismiss(); err != nil {
		if errors.Is(err, services.ErrVerificationPending) {
			httpx.WriteError(r.Context(), w, httpx.NewError("verification_pending", "payment verification is still pending", http.StatusConflict))
			return
		}
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) relayUPIResult(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	var req upiResultRequest
	if !decodeBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	ctx := r.Context()

	code := payments.ActivityResultCode(strings.ToUpper(strings.TrimSpace(req.ResultCode)))
	if code != payments.ResultOK && code != payments.ResultCanceled {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "resultCode must be RESULT_OK or RESULT_CANCELED", http.StatusBadRequest))
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	err := session.Launcher.Deliver(orderID, payments.ActivityResult{Code: code, Response: req.Response})
	if err != nil {
		if errors.Is(err, payments.ErrNoPendingLaunch) {
			httpx.WriteError(ctx, w, httpx.NewError("no_pending_launch", "no UPI payment is waiting for this order", http.StatusConflict))
			return
		}
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *CheckoutHandlers) setInstalledApps(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	var req installedAppsRequest
	if !decodeBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	apps := make([]payments.PayerApp, 0, len(req.Apps))
	for _, raw := range req.Apps {
		app, err := payments.ParsePayerApp(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		apps = append(apps, app)
	}
	session.Launcher.SetInstalled(apps)

	installed := session.Launcher.Installed()
	names := make([]string, 0, len(installed))
	for _, app := range installed {
		names = append(names, string(app))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"apps": names})
}

func buildLaunchPayload(launch payments.LaunchRequest) upiLaunchPayload {
	return upiLaunchPayload{
		OrderID:   launch.OrderID,
		App:       string(launch.App),
		Package:   launch.Package,
		Link:      launch.Link,
		StartedAt: formatTime(launch.StartedAt),
	}
}
