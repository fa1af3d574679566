// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package barrier provides the one-shot signal the startup sequence waits on
// until the device network has either finished its initial queries or the
// driver has failed.
package barrier

import (
	"context"
	"sync"

	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
)

// State is the outcome carried by a Barrier.
type State int32

const (
	Waiting State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "waiting"
	}
}

// Barrier resolves at most once, to Ready or Failed.
type Barrier struct {
	mu    sync.Mutex
	state State
	done  chan struct{}
}

// New returns a barrier in the Waiting state.
func New() *Barrier {
	metrics.BarrierState.Set(0)
	return &Barrier{done: make(chan struct{})}
}

// Resolve moves the barrier to its terminal state. Only the first call with
// Ready or Failed has any effect; it returns false for every later call and
// for an attempt to resolve to Waiting.
func (b *Barrier) Resolve(s State) bool {
	if s != Ready && s != Failed {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Waiting {
		return false
	}
	b.state = s
	close(b.done)

	if s == Ready {
		metrics.BarrierState.Set(1)
	} else {
		metrics.BarrierState.Set(-1)
	}
	return true
}

// Wait blocks until the barrier resolves or ctx is done. On ctx expiry it
// returns Waiting and the context error.
func (b *Barrier) Wait(ctx context.Context) (State, error) {
	select {
	case <-b.done:
		return b.State(), nil
	case <-ctx.Done():
		return Waiting, ctx.Err()
	}
}

// State returns the current state without blocking.
func (b *Barrier) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the barrier resolves.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}
