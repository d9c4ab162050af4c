package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/agribot/internal/apperr"
)

func TestInvoke_ReturnsResult(t *testing.T) {
	t.Parallel()
	got, err := Invoke(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Invoke() = %d, %v, want 42, nil", got, err)
	}
}

func TestInvoke_PassesThroughErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	_, err := Invoke(context.Background(), time.Second, func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Invoke() error = %v, want boom", err)
	}
}

func TestInvoke_Deadline(t *testing.T) {
	t.Parallel()
	cancelled := make(chan struct{})
	_, err := Invoke(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(20 * time.Millisecond)
		return "late", nil
	})
	if apperr.KindOf(err) != apperr.KindTimeout {
		t.Fatalf("Invoke() error = %v, want timeout", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("op context was not cancelled")
	}
}

func TestInvoke_DeadlineWithUncooperativeOp(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Invoke(context.Background(), 10*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if apperr.KindOf(err) != apperr.KindTimeout {
		t.Fatalf("Invoke() error = %v, want timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Invoke() waited for an op that ignores its context")
	}
}

func TestInvoke_ParentCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Invoke(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke() error = %v, want context.Canceled", err)
	}
}

func TestInvoke_RecoversPanic(t *testing.T) {
	t.Parallel()
	_, err := Invoke(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("Invoke() error = nil, want panic converted to error")
	}
}
