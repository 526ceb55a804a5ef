package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buypoint/checkout/internal/domain"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.0", CommitSHA: "abc123", Environment: "prod", StartedAt: now.Add(-time.Minute)}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var body healthResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if body.Version != "1.2.0" || body.Uptime != "1m0s" {
			t.Fatalf("unexpected body %+v", body)
		}
	})

	t.Run("unconfigured group", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart:sync", nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestNewRouterMountsConfiguredGroups(t *testing.T) {
	registry := newTestRegistry(t, newMemCarts())
	router := NewRouter(
		WithCartRoutes(NewCartHandlers(nil, registry).Routes),
		WithSessionRoutes(NewSessionHandlers(nil, registry).Routes),
	)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one session, got %d", registry.Len())
	}

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/session:end", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected session to end, got %d", registry.Len())
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  domain.SystemHealthReport
		status  int
		details int
	}{
		{
			name: "ok",
			report: domain.SystemHealthReport{Status: domain.HealthStatusOK, Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Detail: "ok", Latency: 10 * time.Millisecond},
			}},
			status: http.StatusOK,
		},
		{
			name: "optional degraded",
			report: domain.SystemHealthReport{Status: domain.HealthStatusDegraded, Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Detail: "ok"},
				"pubsub":    {Status: domain.HealthStatusError, Detail: "publish failed"},
			}},
			status:  http.StatusOK,
			details: 1,
		},
		{
			name: "required failure",
			report: domain.SystemHealthReport{Status: domain.HealthStatusError, Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Detail: "timeout"},
			}},
			status:  http.StatusServiceUnavailable,
			details: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthRepository(&stubHealthRepository{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body healthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body.Status != tc.report.Status || len(body.Details) != tc.details {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}
