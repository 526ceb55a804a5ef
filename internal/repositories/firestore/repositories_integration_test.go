//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/buypoint/checkout/internal/domain"
	pconfig "github.com/buypoint/checkout/internal/platform/config"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "checkout-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestRepositoriesIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("addresses keep a single default", func(t *testing.T) {
		repo, err := NewAddressRepository(provider)
		if err != nil {
			t.Fatalf("new address repository: %v", err)
		}
		first, err := repo.Upsert(ctx, "user-a", domain.Address{Street: "1 Main", City: "Austin", State: "TX", PostalCode: "78701", Country: "US"})
		if err != nil {
			t.Fatalf("upsert first: %v", err)
		}
		if !first.IsDefault {
			t.Fatalf("expected first address to become default")
		}
		second, err := repo.Upsert(ctx, "user-a", domain.Address{Street: "2 Oak", City: "Austin", State: "TX", PostalCode: "78702", Country: "US", IsDefault: true})
		if err != nil {
			t.Fatalf("upsert second: %v", err)
		}
		list, err := repo.List(ctx, "user-a")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		defaults := 0
		for _, addr := range list {
			if addr.IsDefault {
				defaults++
			}
		}
		if defaults != 1 || list[0].ID != second.ID {
			t.Fatalf("expected single default %s, got %+v", second.ID, list)
		}
		if _, err := repo.SetDefault(ctx, "user-a", first.ID); err != nil {
			t.Fatalf("set default: %v", err)
		}
		if err := repo.Delete(ctx, "user-a", first.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		remaining, err := repo.Get(ctx, "user-a", second.ID)
		if err != nil || !remaining.IsDefault {
			t.Fatalf("expected remaining address promoted to default, got %+v (%v)", remaining, err)
		}
		if _, err := repo.SetDefault(ctx, "user-a", "missing"); !repositories.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("payments confirm once", func(t *testing.T) {
		orders, err := NewOrderRepository(provider)
		if err != nil {
			t.Fatalf("new order repository: %v", err)
		}
		payments, err := NewPaymentRepository(provider)
		if err != nil {
			t.Fatalf("new payment repository: %v", err)
		}
		now := time.Now().UTC()
		order := domain.Order{ID: "ord_int_1", UserID: "user-b", Total: 2500, Currency: "USD", Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
			Lines: []domain.OrderLine{{ProductID: "p1", Name: "Tea", Quantity: 1, UnitPrice: 2500}}}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert order: %v", err)
		}
		var repoErr repositories.RepositoryError
		if err := orders.Insert(ctx, order); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict on duplicate insert, got %v", err)
		}

		failed := domain.Payment{ID: "pay_fail", OrderID: order.ID, UserID: "user-b", Amount: 2500, Currency: "USD", Method: domain.PaymentMethodUPI, Status: domain.PaymentStatusFailed, CreatedAt: now}
		if err := payments.Insert(ctx, failed); err != nil {
			t.Fatalf("insert failed payment: %v", err)
		}
		success := domain.Payment{ID: "pi_1", OrderID: order.ID, UserID: "user-b", Amount: 2500, Currency: "USD", Method: domain.PaymentMethodCreditCard, CreatedAt: now.Add(time.Second)}
		confirmed, err := payments.ConfirmPayment(ctx, success, now)
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if confirmed.Status != domain.OrderStatusConfirmed {
			t.Fatalf("expected confirmed order, got %s", confirmed.Status)
		}
		success.ID = "pi_2"
		if _, err := payments.ConfirmPayment(ctx, success, now); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict on second success, got %v", err)
		}
		list, err := payments.ListByOrder(ctx, "user-b", order.ID)
		if err != nil || len(list) != 2 {
			t.Fatalf("expected two attempts, got %d (%v)", len(list), err)
		}
		if _, err := orders.UpdateStatus(ctx, "user-b", order.ID, domain.OrderStatusConfirmed, domain.OrderStatusPending, now); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected backwards transition to conflict, got %v", err)
		}
		if _, err := orders.UpdateStatus(ctx, "user-b", order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, now); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected stale from status to conflict, got %v", err)
		}
	})

	t.Run("cart items watch and clear", func(t *testing.T) {
		repo, err := NewCartRepository(provider)
		if err != nil {
			t.Fatalf("new cart repository: %v", err)
		}
		watchCtx, stop := context.WithCancel(ctx)
		defer stop()
		updates := make(chan []domain.CartItem, 8)
		go func() {
			_ = repo.WatchItems(watchCtx, "user-c", func(items []domain.CartItem) { updates <- items })
		}()

		if err := repo.PutItem(ctx, "user-c", domain.CartItem{ID: "item-1", ProductID: "p1", Name: "Tea", UnitPrice: 1000, Quantity: 2}); err != nil {
			t.Fatalf("put: %v", err)
		}
		waitForItems(t, updates, 1)

		if err := repo.Clear(ctx, "user-c"); err != nil {
			t.Fatalf("clear: %v", err)
		}
		waitForItems(t, updates, 0)
		items, err := repo.ListItems(ctx, "user-c")
		if err != nil || len(items) != 0 {
			t.Fatalf("expected empty cart, got %v (%v)", items, err)
		}
	})
}

func waitForItems(t *testing.T, updates <-chan []domain.CartItem, n int) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case items := <-updates:
			if len(items) == n {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d items", n)
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
