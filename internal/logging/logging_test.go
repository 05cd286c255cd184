package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		if logger := New(lvl, "json"); logger == nil {
			t.Errorf("New(%q) returned nil", lvl)
		}
	}
	if logger := New("info", "text"); logger == nil {
		t.Error("New text format returned nil")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("expected empty request ID on fresh context")
	}

	ctx = WithRequestID(ctx, "req_123")
	if got := RequestID(ctx); got != "req_123" {
		t.Errorf("RequestID = %q, want req_123", got)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Error("FromContext should fall back to slog.Default")
	}
}

func TestL_AttachesRequestID(t *testing.T) {
	base := slog.Default()
	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req_456")

	// L should return a derived logger, not panic, and not return nil
	if L(ctx) == nil {
		t.Error("L returned nil")
	}
	// Without a request ID it returns the stored logger unchanged
	plain := WithLogger(context.Background(), base)
	if L(plain) != base {
		t.Error("L without request ID should return the stored logger")
	}
}
