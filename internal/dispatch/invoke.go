package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/agribot/internal/apperr"
)

type outcome[T any] struct {
	val T
	err error
}

// Invoke runs op with a deadline and is the only place an exchange waits on
// the outside world. When the deadline elapses first, op's context is
// cancelled, its eventual result is discarded and a KindTimeout error is
// returned. A cancelled parent context is returned as-is.
func Invoke[T any](ctx context.Context, deadline time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	// Buffered so a late op can still deliver and exit after we stop listening.
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("external call panicked: %v", r)}
			}
		}()
		v, err := op(callCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
			return zero, apperr.New(apperr.KindTimeout, "invoke", res.err)
		}
		return res.val, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, apperr.Errorf(apperr.KindTimeout, "invoke", "no result within %s", deadline)
	}
}
