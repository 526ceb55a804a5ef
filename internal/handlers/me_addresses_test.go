package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/services"
	"github.com/buypoint/checkout/internal/validation"
)

func newAddressRouter(svc services.AddressService) chi.Router {
	router := chi.NewRouter()
	NewAddressHandlers(nil, svc).Routes(router)
	return router
}

func TestAddressHandlersCreate(t *testing.T) {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubAddressService{
		saveFunc: func(ctx context.Context, cmd services.SaveAddressCommand) (domain.Address, error) {
			if cmd.UserID != "user-1" || cmd.Address.ID != "" || cmd.Address.City != "Austin" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			addr := cmd.Address
			addr.ID = "addr-1"
			addr.IsDefault = true
			addr.CreatedAt = created
			return addr, nil
		},
	}
	body := `{"street":"1 Main St","city":"Austin","state":"TX","postalCode":"78701","country":"US"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/me/addresses", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	newAddressRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/me/addresses/addr-1" {
		t.Fatalf("unexpected location %q", loc)
	}
	var payload addressPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.IsDefault || payload.CreatedAt == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAddressHandlersValidationErrorCarriesField(t *testing.T) {
	svc := &stubAddressService{
		saveFunc: func(ctx context.Context, cmd services.SaveAddressCommand) (domain.Address, error) {
			return domain.Address{}, &validation.Error{Field: validation.FieldPostalCode, Message: "Invalid postal code"}
		},
	}
	body := `{"street":"1 Main St","city":"Austin","state":"TX","postalCode":"7","country":"US"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/me/addresses", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	newAddressRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["field"] != validation.FieldPostalCode || payload["message"] != "Invalid postal code" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestAddressHandlersSetDefaultAndDelete(t *testing.T) {
	var deleted string
	svc := &stubAddressService{
		setDefaultFunc: func(ctx context.Context, userID, addressID string) (domain.Address, error) {
			if addressID == "missing" {
				return domain.Address{}, domain.ErrNotFound
			}
			return domain.Address{ID: addressID, IsDefault: true}, nil
		},
		deleteFunc: func(ctx context.Context, userID, addressID string) error {
			deleted = addressID
			return nil
		},
	}
	router := newAddressRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/me/addresses/addr-2:default", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"isDefault":true`) {
		t.Fatalf("expected default address, got %d %s", rr.Code, rr.Body.String())
	}

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/me/addresses/missing:default", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodDelete, "/me/addresses/addr-2", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || deleted != "addr-2" {
		t.Fatalf("expected delete of addr-2, got %d %q", rr.Code, deleted)
	}
}

func TestAddressHandlersList(t *testing.T) {
	svc := &stubAddressService{
		listFunc: func(ctx context.Context, userID string) ([]domain.Address, error) {
			return []domain.Address{{ID: "a"}, {ID: "b", IsDefault: true}}, nil
		},
	}
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/me/addresses", nil), "user-1")
	rr := httptest.NewRecorder()
	newAddressRouter(svc).ServeHTTP(rr, req)

	var resp struct {
		Addresses []addressPayload `json:"addresses"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Addresses) != 2 || !resp.Addresses[1].IsDefault {
		t.Fatalf("unexpected addresses %+v", resp.Addresses)
	}
}
