package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/httpx"
	"github.com/buypoint/checkout/internal/services"
)

const maxAddressBodySize = 8 * 1024

// AddressHandlers exposes the caller's saved shipping addresses.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs address handlers guarded by Firebase authentication.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{authn: authn, addresses: addresses}
}

// Routes registers /me/addresses endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/me/addresses", h.listAddresses)
	group.Post("/me/addresses", h.createAddress)
	group.Put("/me/addresses/{addressId}", h.updateAddress)
	group.Delete("/me/addresses/{addressId}", h.deleteAddress)
	group.Post("/me/addresses/{addressId}:default", h.setDefaultAddress)
}

type addressRequest struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (req addressRequest) toDomain(id string) domain.Address {
	return domain.Address{
		ID:         id,
		Street:     req.Street,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
}

type addressPayload struct {
	ID         string `json:"id"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"isDefault"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Street:     addr.Street,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		IsDefault:  addr.IsDefault,
		CreatedAt:  formatTime(addr.CreatedAt),
		UpdatedAt:  formatTime(addr.UpdatedAt),
	}
}

func (h *AddressHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.addresses == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("address_service_unavailable", "address service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	addresses, err := h.addresses.ListAddresses(r.Context(), identity.UID)
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"addresses": payload})
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeBody(w, r, maxAddressBodySize, &req) {
		return
	}

	saved, err := h.addresses.SaveAddress(r.Context(), services.SaveAddressCommand{
		UserID:  identity.UID,
		Address: req.toDomain(""),
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+saved.ID)
	writeJSONResponse(w, http.StatusCreated, buildAddressPayload(saved))
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressId"))
	if addressID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}
	var req addressRequest
	if !decodeBody(w, r, maxAddressBodySize, &req) {
		return
	}

	saved, err := h.addresses.SaveAddress(r.Context(), services.SaveAddressCommand{
		UserID:  identity.UID,
		Address: req.toDomain(addressID),
	})
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAddressPayload(saved))
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressId"))
	if err := h.addresses.DeleteAddress(r.Context(), identity.UID, addressID); err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressId"))
	addr, err := h.addresses.SetDefaultAddress(r.Context(), identity.UID, addressID)
	if err != nil {
		httpx.WriteServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAddressPayload(addr))
}
