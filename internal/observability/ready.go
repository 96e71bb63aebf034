package observability

import (
	"context"
	"errors"
	"sync"
)

// Ready is the one-shot "location system ready" signal. It fires after
// providers, the country table and default map filters are initialized.
type Ready struct {
	mu    sync.Mutex
	fired bool
	done  chan struct{}
	hooks []func()
}

// NewReady creates an unfired signal.
func NewReady() *Ready {
	return &Ready{done: make(chan struct{})}
}

// OnReady registers fn to run once when the signal fires. If it has
// already fired, fn runs immediately.
func (r *Ready) OnReady(fn func()) {
	r.mu.Lock()
	if !r.fired {
		r.hooks = append(r.hooks, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// Fire marks the system ready and runs hooks in registration order.
// Subsequent calls are no-ops.
func (r *Ready) Fire() {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	hooks := r.hooks
	r.hooks = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Done is closed once the signal has fired.
func (r *Ready) Done() <-chan struct{} {
	return r.done
}

// CheckReadiness implements the readiness probe.
func (r *Ready) CheckReadiness(_ context.Context) error {
	select {
	case <-r.done:
		return nil
	default:
		return errors.New("location system not ready")
	}
}
