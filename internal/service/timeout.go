package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/idcore/internal/errs"
)

// DefaultStorageTimeout bounds each storage call when no timeout is configured.
const DefaultStorageTimeout = 3 * time.Second

// withTimeout runs fn under a deadline of d and reports an expired deadline as
// errs.ErrStorageTimeout.
func withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		d = DefaultStorageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, errs.ErrStorageTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrStorageTimeout, err)
	}
	return err
}
