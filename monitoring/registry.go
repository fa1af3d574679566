// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package monitoring tracks the device values that need active polling and
// enables polling for them once the network is ready.
package monitoring

import (
	"context"
	"sync"

	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/soothill/zwave-redis-bridge/zwave"
)

// DefaultPollIntensity is passed to the runtime when enabling a poll.
const DefaultPollIntensity uint8 = 2

// Registry is the set of values registered for active polling. Entries keep
// insertion order so polls are enabled in discovery order.
type Registry struct {
	mu     sync.Mutex
	values []zwave.ValueID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ShouldPoll reports whether a newly added value needs polling: it must be in
// the basic command class on a node that is not a controller.
func ShouldPoll(v zwave.ValueID, nodeBasic uint8) bool {
	return v.CommandClassID == zwave.CommandClassBasic && !zwave.IsController(nodeBasic)
}

// Register adds v if it is not already present. It returns true if v was added.
func (r *Registry) Register(v zwave.ValueID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(v) >= 0 {
		return false
	}
	r.values = append(r.values, v)
	metrics.PollRegistrySize.Set(float64(len(r.values)))
	return true
}

// Unregister removes v. It returns false if v was not registered.
func (r *Registry) Unregister(v zwave.ValueID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(v)
	if i < 0 {
		return false
	}
	r.values = append(r.values[:i], r.values[i+1:]...)
	metrics.PollRegistrySize.Set(float64(len(r.values)))
	return true
}

// UnregisterNode removes every value belonging to the node and returns how
// many were removed.
func (r *Registry) UnregisterNode(home zwave.HomeID, node zwave.NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.values[:0]
	for _, v := range r.values {
		if !v.BelongsTo(home, node) {
			kept = append(kept, v)
		}
	}
	removed := len(r.values) - len(kept)
	r.values = kept
	metrics.PollRegistrySize.Set(float64(len(r.values)))
	return removed
}

// Snapshot returns a copy of the current membership.
func (r *Registry) Snapshot() []zwave.ValueID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]zwave.ValueID, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Contains reports whether v is registered.
func (r *Registry) Contains(v zwave.ValueID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(v) >= 0
}

func (r *Registry) indexOf(v zwave.ValueID) int {
	for i, e := range r.values {
		if e.Equal(v) {
			return i
		}
	}
	return -1
}

// EnablePolling asks the runtime to poll each value and returns how many
// polls were enabled. Failures are logged and skipped. It stops early if ctx
// is cancelled.
func EnablePolling(ctx context.Context, poller zwave.Poller, values []zwave.ValueID, intensity uint8) int {
	enabled := 0
	for _, v := range values {
		if ctx.Err() != nil {
			logger.Warn().Int("remaining", len(values)-enabled).Msg("Poll enablement cancelled")
			break
		}
		if err := poller.EnablePoll(v, intensity); err != nil {
			logger.Error().Err(err).Str("value_id", v.String()).Msg("Failed to enable polling")
			continue
		}
		enabled++
		metrics.PollsEnabled.Inc()
		logger.Debug().Str("value_id", v.String()).Uint8("intensity", intensity).Msg("Polling enabled")
	}

	logger.Info().Int("enabled", enabled).Int("registered", len(values)).Msg("Polling enabled for registered values")
	return enabled
}
