package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Waiter is anything that can block until it settles.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WaitAll waits for every waiter concurrently and returns how many settled
// with an error. It only returns early when ctx ends.
func WaitAll[W Waiter](ctx context.Context, waiters []W) (failed int, err error) {
	results := make([]error, len(waiters))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range waiters {
		g.Go(func() error {
			results[i] = w.Wait(gctx)
			return nil
		})
	}
	_ = g.Wait()

	if err = ctx.Err(); err != nil {
		return 0, err
	}
	for _, r := range results {
		if r != nil {
			failed++
		}
	}
	return failed, nil
}

// Group runs long-lived goroutines and cancels them all when one fails.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

func NewGroup(ctx context.Context) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}
}

func (g *Group) Context() context.Context { return g.ctx }

func (g *Group) Go(fn func(ctx context.Context) error) {
	g.g.Go(func() error { return fn(g.ctx) })
}

func (g *Group) Wait() error { return g.g.Wait() }
