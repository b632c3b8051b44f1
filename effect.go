package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// M is the Effect's monadic carrier: a context-aware thunk producing a
// type-erased result. It is deliberately not itself generic — Go has
// no way to abstract over an arbitrary higher-kinded monad parameter —
// so each Effect adapter below picks one concrete runtime model
// (goroutines, or plain sequential calls) instead.
type M func(ctx context.Context) (any, error)

// Effect is the runtime capability the interpreter is executed against.
// It provides the monadic glue (Pure, FlatMap, Raise, HandleWith) plus
// the one bridge that actually performs I/O: RunQuery, which MUST
// schedule a Query's Ap branches concurrently where the runtime allows.
type Effect interface {
	Pure(v any) M
	FlatMap(m M, f func(any) M) M
	Raise(err error) M
	HandleWith(m M, f func(error) M) M
	RunQuery(q queryNode) M
}

// runner holds the evaluation logic shared by GoroutineEffect and
// SequentialEffect; they differ only in whether Ap's two branches are
// allowed to run on separate goroutines.
type runner struct {
	concurrent bool
}

func (r runner) Pure(v any) M {
	return func(ctx context.Context) (any, error) { return v, nil }
}

func (r runner) FlatMap(m M, f func(any) M) M {
	return func(ctx context.Context) (any, error) {
		v, err := m(ctx)
		if err != nil {
			return nil, err
		}
		return f(v)(ctx)
	}
}

func (r runner) Raise(err error) M {
	return func(ctx context.Context) (any, error) { return nil, err }
}

func (r runner) HandleWith(m M, f func(error) M) M {
	return func(ctx context.Context) (any, error) {
		v, err := m(ctx)
		if err == nil {
			return v, nil
		}
		return f(err)(ctx)
	}
}

func (r runner) RunQuery(q queryNode) M {
	return func(ctx context.Context) (any, error) {
		return r.eval(ctx, q)
	}
}

func (r runner) eval(ctx context.Context, n queryNode) (any, error) {
	switch v := n.(type) {
	case syncQueryNode:
		return v.thunk()
	case asyncQueryNode:
		return evalAsync(ctx, v)
	case apMapNode:
		inner, err := r.eval(ctx, v.inner)
		if err != nil {
			return nil, err
		}
		return v.f(inner)
	case apQueryNode:
		if !r.concurrent {
			l, err := r.eval(ctx, v.left)
			if err != nil {
				return nil, err
			}
			rr, err := r.eval(ctx, v.right)
			if err != nil {
				return nil, err
			}
			return v.combine(l, rr)
		}
		g, gctx := errgroup.WithContext(ctx)
		var l, rr any
		g.Go(func() error {
			var err error
			l, err = r.eval(gctx, v.left)
			return err
		})
		g.Go(func() error {
			var err error
			rr, err = r.eval(gctx, v.right)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return v.combine(l, rr)
	default:
		return nil, &UnhandledException{Cause: fmt.Errorf("fetch: unknown query node %T", n)}
	}
}

func evalAsync(ctx context.Context, n asyncQueryNode) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	go n.start(ctx, func(v any) {
		select {
		case ch <- outcome{v: v}:
		default:
		}
	}, func(err error) {
		select {
		case ch <- outcome{err: err}:
		default:
		}
	})

	if n.timeout <= 0 {
		select {
		case o := <-ch:
			return o.v, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-timer.C:
		return nil, &TimeoutError{Timeout: n.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GoroutineEffect is the production Effect adapter: Ap's two branches
// run on separate goroutines joined via errgroup, so independent batch
// calls against different sources genuinely overlap.
type GoroutineEffect struct{ r runner }

// NewGoroutineEffect returns the default, concurrency-enabled Effect.
func NewGoroutineEffect() GoroutineEffect {
	return GoroutineEffect{r: runner{concurrent: true}}
}

func (e GoroutineEffect) Pure(v any) M                      { return e.r.Pure(v) }
func (e GoroutineEffect) FlatMap(m M, f func(any) M) M      { return e.r.FlatMap(m, f) }
func (e GoroutineEffect) Raise(err error) M                 { return e.r.Raise(err) }
func (e GoroutineEffect) HandleWith(m M, f func(error) M) M { return e.r.HandleWith(m, f) }
func (e GoroutineEffect) RunQuery(q queryNode) M            { return e.r.RunQuery(q) }

// SequentialEffect runs Ap's two branches one after another on the
// calling goroutine. The batching optimization (dedup and grouping by
// source) still applies even though nothing actually overlaps; this is
// useful for deterministic tests that want to count source calls
// without goroutine-scheduling noise.
type SequentialEffect struct{ r runner }

// NewSequentialEffect returns a synchronous Effect.
func NewSequentialEffect() SequentialEffect {
	return SequentialEffect{r: runner{concurrent: false}}
}

func (e SequentialEffect) Pure(v any) M                      { return e.r.Pure(v) }
func (e SequentialEffect) FlatMap(m M, f func(any) M) M      { return e.r.FlatMap(m, f) }
func (e SequentialEffect) Raise(err error) M                 { return e.r.Raise(err) }
func (e SequentialEffect) HandleWith(m M, f func(error) M) M { return e.r.HandleWith(m, f) }
func (e SequentialEffect) RunQuery(q queryNode) M            { return e.r.RunQuery(q) }
