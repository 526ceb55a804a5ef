package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/buypoint/checkout/internal/currency"
	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/httpx"
	"github.com/buypoint/checkout/internal/platform/pagination"
	"github.com/buypoint/checkout/internal/services"
)

const maxOrderPageSize = 100

// OrderHandlers exposes the caller's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderHistoryService
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderHistoryService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/orders", h.listOrders)
	group.Get("/orders/{orderId}", h.getOrder)
	group.Post("/orders/{orderId}:cancel", h.cancelOrder)
}

type orderPayload struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Total           int64              `json:"total"`
	TotalDisplay    string             `json:"totalDisplay"`
	Lines           []orderLinePayload `json:"lines"`
	ShippingAddress addressPayload     `json:"shippingAddress"`
	CreatedAt       string             `json:"createdAt,omitempty"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type orderLinePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type paymentPayload struct {
	ID             string `json:"id"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	GatewayRef     string `json:"gatewayRef,omitempty"`
	FailureCode    string `json:"failureCode,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderDetailResponse struct {
	Order    orderPayload     `json:"order"`
	Payments []paymentPayload `json:"payments"`
}

func buildOrderPayload(order domain.Order, lang language.Tag) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal(),
		})
	}
	return orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		Total:           order.Total,
		TotalDisplay:    currency.Format(order.Total, order.Currency, lang),
		Lines:           lines,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func buildPaymentPayload(payment domain.Payment) paymentPayload {
	return paymentPayload{
		ID:             payment.ID,
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		GatewayRef:     payment.GatewayRef,
		FailureCode:    payment.FailureCode,
		FailureMessage: payment.FailureMessage,
		CreatedAt:      formatTime(payment.CreatedAt),
	}
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	page, err := pagination.FromRequest(r, pagination.Options{MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListOrders(ctx, identity.UID, page)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	lang := requestLanguage(r)
	payload := make([]orderPayload, 0, len(result.Orders))
	for _, order := range result.Orders {
		payload = append(payload, buildOrderPayload(order, lang))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Orders: payload, NextPageToken: result.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	resp := orderDetailResponse{
		Order:    buildOrderPayload(detail.Order, requestLanguage(r)),
		Payments: make([]paymentPayload, 0, len(detail.Payments)),
	}
	for _, payment := range detail.Payments {
		resp.Payments = append(resp.Payments, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelOrder(ctx, identity.UID, orderID)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, requestLanguage(r)))
}
