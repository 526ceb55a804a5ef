package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger when none stored")
	}
	logger := zap.NewExample()
	if got := Logger(WithLogger(context.Background(), logger)); got != logger {
		t.Fatalf("expected stored logger")
	}
	if got := Logger(WithLogger(context.Background(), nil)); got != NoopLogger() {
		t.Fatalf("nil logger should be replaced with noop")
	}
}

func TestTraceAndUser(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true})
	ctx = WithUserID(ctx, "user-1")

	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if UserID(ctx) != "user-1" {
		t.Fatalf("unexpected user id %q", UserID(ctx))
	}
	if TraceID(context.Background()) != "" || UserID(context.Background()) != "" {
		t.Fatalf("expected empty values on bare context")
	}
}
