// ABOUTME: Tests for the supervised hook runner
// ABOUTME: Covers success, error and panic containment, and detached contexts

package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsHook(t *testing.T) {
	r := NewRunner(nil)

	var ran atomic.Bool
	r.Go(t.Context(), "ok", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	r.Wait()

	assert.True(t, ran.Load())
}

func TestRunner_ContainsErrorsAndPanics(t *testing.T) {
	r := NewRunner(nil)

	var (
		mu       sync.Mutex
		failures = map[string]error{}
	)
	r.OnFailure = func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[name] = err
	}

	boom := errors.New("boom")
	r.Go(t.Context(), "fails", func(ctx context.Context) error { return boom })
	r.Go(t.Context(), "panics", func(ctx context.Context) error { panic("kaboom") })
	r.Wait()

	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures["fails"], boom)
	assert.Contains(t, failures["panics"].Error(), "kaboom")
}

func TestRunner_DetachesFromCallerCancellation(t *testing.T) {
	r := NewRunner(nil)

	ctx, cancel := context.WithCancel(t.Context())
	release := make(chan struct{})
	var hookErr atomic.Value

	r.Go(ctx, "slow", func(ctx context.Context) error {
		<-release
		if err := ctx.Err(); err != nil {
			hookErr.Store(err)
		}
		return nil
	})

	cancel()
	close(release)
	r.Wait()

	assert.Nil(t, hookErr.Load(), "hook context must outlive the caller")
}
