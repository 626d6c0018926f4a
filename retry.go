package docshard

import (
	"context"
	"errors"
	"time"

	"github.com/drpcorg/docshard/utils"
)

const conflictRetryBudget = 10

// WithWriteConflictRetry runs fn until it stops failing with
// ErrWriteConflict, each attempt against a fresh transaction set up by fn
// itself. Exhausting the budget surfaces ErrConflictRetryExhausted.
func WithWriteConflictRetry(ctx context.Context, log utils.Logger, opName, ns string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, ErrWriteConflict) {
			return err
		}
		if attempt+1 >= conflictRetryBudget {
			return errors.Join(ErrConflictRetryExhausted, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.DebugCtx(ctx, "write conflict, retrying", "op", opName, "ns", ns, "attempt", attempt)
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
}
