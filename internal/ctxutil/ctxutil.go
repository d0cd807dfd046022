// Package ctxutil holds context helpers shared by the cache and worktree packages.
package ctxutil

import (
	"context"
	"sync"
	"time"
)

// Detach returns a context that carries parent's values but neither its cancellation nor its
// deadline. It is bounded by timeout instead; zero or negative means no bound.
// Work shared by several callers runs on it, so the caller that started it can give up
// without failing the others.
func Detach(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// Ticker runs fn every interval on its own goroutine until the returned stop is called.
// stop waits for a running fn to return and is safe to call more than once.
// A non-positive interval starts nothing and returns a no-op stop.
func Ticker(interval time.Duration, fn func(ctx context.Context)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
