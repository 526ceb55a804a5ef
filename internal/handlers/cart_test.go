package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newCartRouter(t *testing.T, carts *memCarts) chi.Router {
	t.Helper()
	handler := NewCartHandlers(nil, newTestRegistry(t, carts))
	router := chi.NewRouter()
	handler.Routes(router)
	return router
}

func doCart(t *testing.T, router chi.Router, method, path, body string) (*httptest.ResponseRecorder, cartResponse) {
	t.Helper()
	req := withIdentity(httptest.NewRequest(method, path, strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp cartResponse
	if rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return rr, resp
}

func TestCartHandlersAddItemAndGet(t *testing.T) {
	router := newCartRouter(t, newMemCarts())

	rr, resp := doCart(t, router, http.MethodPost, "/cart/items", `{"productId":"prod-1","name":"Tea","price":1250,"quantity":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Cart.ItemsCount != 1 || resp.Cart.Total != 2500 || resp.Cart.Degraded {
		t.Fatalf("unexpected cart %+v", resp.Cart)
	}

	rr, resp = doCart(t, router, http.MethodGet, "/cart", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("expected no-store cache control")
	}
	if rr.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag header")
	}
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].Subtotal != 2500 {
		t.Fatalf("unexpected items %+v", resp.Cart.Items)
	}
}

func TestCartHandlersDegradedMutationIsAccepted(t *testing.T) {
	carts := newMemCarts()
	router := newCartRouter(t, carts)

	carts.setUnreachable(true)
	rr, resp := doCart(t, router, http.MethodPost, "/cart/items", `{"productId":"prod-1","name":"Tea","price":100,"quantity":1}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if !resp.Cart.Degraded || resp.Cart.PendingOperations != 1 || resp.Cart.ItemsCount != 1 {
		t.Fatalf("expected degraded cart with queued op, got %+v", resp.Cart)
	}

	carts.setUnreachable(false)
	rr, resp = doCart(t, router, http.MethodPost, "/cart:sync", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 after sync, got %d", rr.Code)
	}
	if resp.Cart.Degraded || resp.Cart.PendingOperations != 0 || resp.Cart.ItemsCount != 1 {
		t.Fatalf("expected recovered cart, got %+v", resp.Cart)
	}
}

func TestCartHandlersUpdateAndRemoveItem(t *testing.T) {
	router := newCartRouter(t, newMemCarts())

	_, resp := doCart(t, router, http.MethodPost, "/cart/items", `{"productId":"prod-1","name":"Tea","price":100,"quantity":1}`)
	itemID := resp.Cart.Items[0].ID

	rr, resp := doCart(t, router, http.MethodPut, "/cart/items/"+itemID, `{"quantity":4}`)
	if rr.Code != http.StatusOK || resp.Cart.Items[0].Quantity != 4 {
		t.Fatalf("expected quantity 4, got %d %+v", rr.Code, resp.Cart)
	}

	rr, _ = doCart(t, router, http.MethodPut, "/cart/items/"+itemID, `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quantity, got %d", rr.Code)
	}

	rr, resp = doCart(t, router, http.MethodDelete, "/cart/items/"+itemID, "")
	if rr.Code != http.StatusOK || resp.Cart.ItemsCount != 0 {
		t.Fatalf("expected empty cart, got %d %+v", rr.Code, resp.Cart)
	}
}

func TestCartHandlersRejectsInvalidInput(t *testing.T) {
	router := newCartRouter(t, newMemCarts())

	cases := map[string]string{
		"zero quantity":  `{"productId":"prod-1","price":100,"quantity":0}`,
		"missing id":     `{"price":100,"quantity":1}`,
		"unknown field":  `{"productId":"prod-1","price":100,"quantity":1,"coupon":"x"}`,
		"malformed json": `{"productId":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, _ := doCart(t, router, http.MethodPost, "/cart/items", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestCartHandlersRequiresAuthentication(t *testing.T) {
	router := newCartRouter(t, newMemCarts())
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersSessionUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1")
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
