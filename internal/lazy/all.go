package lazy

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// All resolves every value concurrently, at most limit at a time (limit <= 0
// means no limit), and returns the concrete results in input order.
// Non-deferred inputs are passed through. The first error cancels the
// remaining waits and is returned; producers already started still run to
// completion inside their own Deferred.
func All(ctx context.Context, limit int, values ...any) ([]any, error) {
	out := make([]any, len(values))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, v := range values {
		g.Go(func() error {
			r, err := Resolve(gctx, v)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Settled is the outcome of one value passed to AllSettled.
type Settled struct {
	Value any
	Err   error
}

// AllSettled resolves every value like All but never fails fast: each
// position reports its own value or error.
func AllSettled(ctx context.Context, limit int, values ...any) []Settled {
	out := make([]Settled, len(values))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, v := range values {
		g.Go(func() error {
			r, err := Resolve(ctx, v)
			out[i] = Settled{Value: r, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
