package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance-bot/pkg/response"
)

// RunWithTimeout runs fn under a deadline. Hitting the deadline yields an
// error wrapping response.ErrTimeout, even if fn later succeeds.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %v: %w", timeout, response.ErrTimeout)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %v: %w", timeout, response.ErrTimeout)
	}
}
