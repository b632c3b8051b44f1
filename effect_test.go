package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineEffectPureFlatMap(t *testing.T) {
	e := NewGoroutineEffect()
	m := e.FlatMap(e.Pure(1), func(v any) M {
		return e.Pure(v.(int) + 1)
	})
	v, err := m(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRaiseShortCircuitsFlatMap(t *testing.T) {
	e := NewGoroutineEffect()
	wantErr := errors.New("bad")
	called := false
	m := e.FlatMap(e.Raise(wantErr), func(v any) M {
		called = true
		return e.Pure(v)
	})
	_, err := m(context.Background())
	assert.Equal(t, wantErr, err)
	assert.False(t, called)
}

func TestHandleWithRecoversFromError(t *testing.T) {
	e := NewGoroutineEffect()
	m := e.HandleWith(e.Raise(errors.New("bad")), func(err error) M {
		return e.Pure("recovered")
	})
	v, err := m(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func bumpMax(addr *int32, n int32) {
	for {
		m := atomic.LoadInt32(addr)
		if n <= m || atomic.CompareAndSwapInt32(addr, m, n) {
			return
		}
	}
}

func TestGoroutineEffectRunsApBranchesConcurrently(t *testing.T) {
	e := NewGoroutineEffect()
	var concurrent int32
	var maxConcurrent int32
	observe := func() (int, error) {
		n := atomic.AddInt32(&concurrent, 1)
		bumpMax(&maxConcurrent, n)
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return int(n), nil
	}

	q := Ap(Sync(observe), Sync(observe), func(a, b int) int { return a + b })
	m := e.RunQuery(q.n)
	_, err := m(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxConcurrent), "GoroutineEffect must run Ap's branches on separate goroutines")
}

func TestSequentialEffectRunsApBranchesInOrder(t *testing.T) {
	e := NewSequentialEffect()
	var mu sync.Mutex
	var order []string
	record := func(name string) func() (string, error) {
		return func() (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	q := Ap(Sync(record("left")), Sync(record("right")), func(a, b string) string { return a + b })
	m := e.RunQuery(q.n)
	v, err := m(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "leftright", v)
	assert.Equal(t, []string{"left", "right"}, order)
}

func TestEvalAsyncRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := Async(func(ctx context.Context, succeed func(int), fail func(error)) {
		<-ctx.Done()
	}, 0)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = (runner{}).eval(ctx, q.n)
		close(done)
	}()

	cancel()
	<-done
	assert.ErrorIs(t, err, context.Canceled)
}
