package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buypoint/checkout/internal/domain"
	"github.com/buypoint/checkout/internal/platform/requestctx"
	"github.com/buypoint/checkout/internal/validation"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: x", domain.ErrInvalidArgument):  http.StatusBadRequest,
		fmt.Errorf("%w: x", domain.ErrNotAuthenticated): http.StatusUnauthorized,
		fmt.Errorf("%w: x", domain.ErrNotFound):         http.StatusNotFound,
		fmt.Errorf("%w: x", domain.ErrConflict):         http.StatusConflict,
		fmt.Errorf("%w: x", domain.ErrUnreachable):      http.StatusServiceUnavailable,
		fmt.Errorf("%w: x", domain.ErrGatewayRejected):  http.StatusPaymentRequired,
		fmt.Errorf("%w: x", domain.ErrTimeout):          http.StatusGatewayTimeout,
		errors.New("boom"):                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestFromErrorHidesInternalMessage(t *testing.T) {
	out := FromError(errors.New("firestore: dial tcp 10.0.0.1"))
	if out.Message != "internal server error" {
		t.Fatalf("internal message leaked: %q", out.Message)
	}
}

func TestWriteErrorIncludesValidationFieldAndTrace(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteServiceError(ctx, rec, validation.PostalCode("941O5", "US"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["field"] != validation.FieldPostalCode {
		t.Fatalf("expected field detail, got %v", payload)
	}
	if payload["message"] != "Invalid postal code format for US" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
	if payload["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", payload["trace_id"])
	}
	if payload["error"] != string(domain.KindInvalidArgument) {
		t.Fatalf("unexpected code %v", payload["error"])
	}
}
