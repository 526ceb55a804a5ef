package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/httpx"
	"github.com/buypoint/checkout/internal/services"
)

const maxCartBodySize = 8 * 1024

// CartHandlers exposes the signed-in shopper's cart. Mutations apply to the local view
// first; when the remote store cannot be reached the response is 202 with degraded set.
type CartHandlers struct {
	authn    *auth.Authenticator
	sessions SessionProvider
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before touching the session cart.
func NewCartHandlers(authn *auth.Authenticator, sessions SessionProvider) *CartHandlers {
	return &CartHandlers{
		authn:    authn,
		sessions: sessions,
	}
}

// Routes wires the cart endpoints onto the API router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/cart", h.getCart)
	group.Delete("/cart", h.clearCart)
	group.Post("/cart:sync", h.syncCart)
	group.Post("/cart/items", h.addItem)
	group.Put("/cart/items/{itemId}", h.updateItem)
	group.Delete("/cart/items/{itemId}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	ImageURL  string `json:"imageUrl"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	UserID            string            `json:"userId"`
	Items             []cartItemPayload `json:"items"`
	ItemsCount        int               `json:"itemsCount"`
	Total             int64             `json:"total"`
	Degraded          bool              `json:"degraded"`
	PendingOperations int               `json:"pendingOperations,omitempty"`
	UpdatedAt         string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	h.writeCart(w, session.Cart, http.StatusOK)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}

	product := domain.Product{
		ID:       strings.TrimSpace(req.ProductID),
		Name:     strings.TrimSpace(req.Name),
		Price:    req.Price,
		ImageURL: strings.TrimSpace(req.ImageURL),
	}
	_, err := session.Cart.Add(r.Context(), product, req.Quantity)
	h.respondMutation(w, r, session.Cart, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	if itemID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}
	var req updateCartItemRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	err := session.Cart.SetQuantity(r.Context(), itemID, *req.Quantity)
	h.respondMutation(w, r, session.Cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	if itemID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}
	err := session.Cart.Remove(r.Context(), itemID)
	h.respondMutation(w, r, session.Cart, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	err := session.Cart.Clear(r.Context())
	h.respondMutation(w, r, session.Cart, err)
}

func (h *CartHandlers) syncCart(w http.ResponseWriter, r *http.Request) {
	_, session, ok := requireSession(w, r, h.sessions)
	if !ok {
		return
	}
	err := session.Cart.Sync(r.Context())
	h.respondMutation(w, r, session.Cart, err)
}

// respondMutation writes the cart after a mutation. A degraded mutation was applied
// locally and is queued, so it is reported as accepted rather than failed.
func (h *CartHandlers) respondMutation(w http.ResponseWriter, r *http.Request, cart *services.CartCoordinator, err error) {
	if err == nil {
		h.writeCart(w, cart, http.StatusOK)
		return
	}
	var degraded *services.DegradedError
	if errors.As(err, &degraded) {
		h.writeCart(w, cart, http.StatusAccepted)
		return
	}
	httpx.WriteServiceError(r.Context(), w, err)
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, cart *services.CartCoordinator, status int) {
	snapshot := cart.Snapshot()
	payload := cartPayload{
		UserID:            snapshot.UserID,
		Items:             buildCartItems(snapshot.Items),
		ItemsCount:        len(snapshot.Items),
		Total:             snapshot.Total(),
		Degraded:          cart.Degraded(),
		PendingOperations: cart.PendingOperations(),
		UpdatedAt:         formatTime(snapshot.UpdatedAt),
	}
	setNoStore(w)
	if !snapshot.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", snapshot.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(snapshot); etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSONResponse(w, status, cartResponse{Cart: payload})
}

func buildCartItems(items []domain.CartItem) []cartItemPayload {
	out := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
			ImageURL:  item.ImageURL,
		})
	}
	return out
}

// buildCartETag hashes the item lines so clients can skip unchanged carts.
func buildCartETag(cart domain.Cart) string {
	if cart.UpdatedAt.IsZero() && len(cart.Items) == 0 {
		return ""
	}
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s:%d", cart.UserID, cart.UpdatedAt.UTC().UnixNano())
	for _, item := range cart.Items {
		fmt.Fprintf(hasher, "|%s:%s:%d:%d", item.ID, item.ProductID, item.Quantity, item.UnitPrice)
	}
	sum := hasher.Sum(nil)
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}
