package bot

import (
	"context"
	"fmt"
	"sync"

	"ex-mirror/pkg/mirror"
)

// Readiness is the bootstrap outcome observed by accessors.
type Readiness string

const (
	// ReadinessPending means bootstrap has not finished.
	ReadinessPending Readiness = "not_ready"
	// ReadinessReady means the mirror is usable.
	ReadinessReady Readiness = "ready"
	// ReadinessFailed means bootstrap failed and the client is unusable.
	ReadinessFailed Readiness = "failed"
)

// readiness is a one-shot token shared by every waiter.
//
// It resolves exactly once, either to ready or to a failure that all current
// and future waiters observe.
type readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadiness() *readiness {
	return &readiness{done: make(chan struct{})}
}

func (r *readiness) succeed() {
	r.once.Do(func() {
		close(r.done)
	})
}

func (r *readiness) fail(cause error) {
	r.once.Do(func() {
		r.err = fmt.Errorf("%w: %w", mirror.ErrNotReady, cause)
		close(r.done)
	})
}

func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("await readiness: %w", ctx.Err())
	}
}

func (r *readiness) state() Readiness {
	select {
	case <-r.done:
		if r.err != nil {
			return ReadinessFailed
		}
		return ReadinessReady
	default:
		return ReadinessPending
	}
}
