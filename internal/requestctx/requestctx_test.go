package requestctx

import (
	"context"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now()
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithRequestTime(ctx, now)
	ctx = WithSubject(ctx, "user-9")

	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID() = %q", got)
	}
	if got := RequestTime(ctx); !got.Equal(now) {
		t.Errorf("RequestTime() = %v", got)
	}
	if got := Subject(ctx); got != "user-9" {
		t.Errorf("Subject() = %q", got)
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || Subject(ctx) != "" || !RequestTime(ctx).IsZero() {
		t.Error("empty context should yield zero values")
	}
}
