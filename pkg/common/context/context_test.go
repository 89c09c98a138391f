package context

import (
	"context"
	"testing"
	"time"
)

func TestExpired(t *testing.T) {
	ctx := Expired()
	if !IsCanceled(ctx) {
		t.Fatal("expired context should be canceled")
	}
	if !IsTimedOut(ctx) {
		t.Errorf("err = %v, want DeadlineExceeded", ctx.Err())
	}
}

func TestIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if IsCanceled(ctx) {
		t.Fatal("fresh context should not be canceled")
	}
	cancel()
	if !IsCanceled(ctx) {
		t.Fatal("context should be canceled after cancel()")
	}
	if IsTimedOut(ctx) {
		t.Error("explicit cancel is not a timeout")
	}
}

func TestWithTimeoutOrCancel(t *testing.T) {
	ctx, cancel := WithTimeoutOrCancel(context.Background(), 10*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout context never fired")
	}
	if !IsTimedOut(ctx) {
		t.Errorf("err = %v, want DeadlineExceeded", ctx.Err())
	}
}
