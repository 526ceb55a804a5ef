package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreReserveLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := Fingerprint("user-1", "cart-hash", "addr-1", "upi")

	res, err := store.Reserve(ctx, "user-1:key-1", fp, fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, "user-1:key-1", fp, fixedTime.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation while in flight, got %v", res.State)
	}

	if err := store.Complete(ctx, "user-1:key-1", fp, []byte(`{"orderId":"ord_1"}`), fixedTime.Add(2*time.Second), time.Hour); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res, err = store.Reserve(ctx, "user-1:key-1", fp, fixedTime.Add(3*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("replay reserve: %v", err)
	}
	if res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %v", res.State)
	}
	if string(res.Record.Result) != `{"orderId":"ord_1"}` {
		t.Fatalf("unexpected stored result %q", res.Record.Result)
	}
}

func TestMemoryStoreFingerprintMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", Fingerprint("a"), fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "k", Fingerprint("b"), fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
	if err := store.Complete(ctx, "k", Fingerprint("b"), nil, fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch on complete, got %v", err)
	}
}

func TestMemoryStoreReleaseAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fp := Fingerprint("x")

	if _, err := store.Reserve(ctx, "k", fp, fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k", Fingerprint("other")); err != nil {
		t.Fatalf("release with other fingerprint: %v", err)
	}
	if res, _ := store.Reserve(ctx, "k", fp, fixedTime, time.Hour); res.State != ReservationStatePending {
		t.Fatalf("release with other fingerprint should keep reservation, got %v", res.State)
	}
	if err := store.Release(ctx, "k", fp); err != nil {
		t.Fatalf("release: %v", err)
	}
	if res, _ := store.Reserve(ctx, "k", fp, fixedTime, time.Hour); res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %v", res.State)
	}
}

func TestMemoryStoreExpiryAndCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "old", Fingerprint("a"), fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve old: %v", err)
	}
	if _, err := store.Reserve(ctx, "new", Fingerprint("b"), fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve new: %v", err)
	}

	later := fixedTime.Add(2 * time.Minute)
	res, err := store.Reserve(ctx, "old", Fingerprint("c"), later, time.Minute)
	if err != nil {
		t.Fatalf("expired key should be reusable: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation for expired key, got %v", res.State)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(90*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 expired records removed, got %d", removed)
	}
}

func TestReserveRejectsBlankKey(t *testing.T) {
	if _, err := NewMemoryStore().Reserve(context.Background(), "  ", "fp", fixedTime, 0); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
}

func TestFingerprintSeparatesParts(t *testing.T) {
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatalf("fingerprint must distinguish part boundaries")
	}
}
