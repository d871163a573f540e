package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds fn by limit. It returns when fn does or when the limit
// passes, whichever is first; fn keeps its derived context and must not touch
// caller-owned state after that. A non-positive limit calls fn directly.
func WithTimeout(ctx context.Context, limit time.Duration, name string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(bounded) }()

	select {
	case err := <-result:
		return err
	case <-bounded.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: exceeded %v: %w", name, limit, context.DeadlineExceeded)
	}
}
