// ABOUTME: Supervised fire-and-forget execution of post-commit hooks
// ABOUTME: Recovers panics and logs errors so hooks never fail the committing caller

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner starts hooks on their own goroutines and waits for them on demand.
type Runner struct {
	logger *slog.Logger
	wg     sync.WaitGroup

	// OnFailure, when set, observes every hook error or recovered panic
	OnFailure func(name string, err error)
}

// NewRunner creates a Runner. A nil logger uses slog.Default.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger.With("component", "notify")}
}

// Go runs fn in the background under name. ctx is detached from the caller's
// cancellation so a finished turn does not abort the hook.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				r.logger.Error("hook panicked",
					"hook", name,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				r.failed(name, err)
			}
		}()

		if err := fn(ctx); err != nil {
			r.logger.Error("hook failed", "hook", name, "error", err)
			r.failed(name, err)
		}
	}()
}

// Wait blocks until every started hook has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) failed(name string, err error) {
	if r.OnFailure != nil {
		r.OnFailure(name, err)
	}
}
