// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
)

const alertTimeout = 10 * time.Second

// BreakerSettings configures the store circuit breaker.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures that open the breaker
	OpenTimeout time.Duration // how long the breaker stays open before probing
	HalfOpenMax uint32        // requests let through while half-open
}

// StoreAlerter is told when writes are suspended and when they resume.
type StoreAlerter interface {
	IsEnabled() bool
	SendStoreFailure(ctx context.Context, addr string) error
	SendStoreRecovery(ctx context.Context, addr string) error
}

// BreakerStore guards write commands to an underlying store with a circuit
// breaker. Failed writes are not retried; while the breaker is open writes
// fail immediately with ErrCircuitBreakerOpen.
type BreakerStore struct {
	store    interfaces.Store
	cb       *gobreaker.CircuitBreaker
	notifier StoreAlerter
	addr     string
}

// NewBreakerStore wraps store. notifier may be nil.
func NewBreakerStore(store interfaces.Store, addr string, settings BreakerSettings, notifier StoreAlerter) *BreakerStore {
	b := &BreakerStore{store: store, notifier: notifier, addr: addr}

	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: settings.HalfOpenMax,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: b.onStateChange,
	})
	metrics.CircuitBreakerState.Set(0)
	return b
}

func (b *BreakerStore) onStateChange(name string, from, to gobreaker.State) {
	metrics.CircuitBreakerState.Set(float64(stateValue(to)))

	ev := logger.Warn()
	if to == gobreaker.StateClosed {
		ev = logger.Info()
	}
	ev.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Store circuit breaker state changed")

	if b.notifier == nil || !b.notifier.IsEnabled() {
		return
	}

	var send func(ctx context.Context, addr string) error
	switch {
	case to == gobreaker.StateOpen && from == gobreaker.StateClosed:
		send = b.notifier.SendStoreFailure
	case to == gobreaker.StateClosed:
		send = b.notifier.SendStoreRecovery
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := send(ctx, b.addr); err != nil {
			logger.Error().Err(err).Msg("Failed to send circuit breaker alert")
		}
	}()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (b *BreakerStore) execute(op, key string, f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.StoreWriteErrors.WithLabelValues(op).Inc()
		return errors.NewStorageError(op, key, errors.ErrCircuitBreakerOpen)
	}
	return err
}

// State returns the breaker state name: closed, half-open or open.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func (b *BreakerStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return b.execute("hset", key, func() error { return b.store.HSet(ctx, key, fields) })
}

func (b *BreakerStore) Del(ctx context.Context, key string) error {
	return b.execute("del", key, func() error { return b.store.Del(ctx, key) })
}

func (b *BreakerStore) Publish(ctx context.Context, channel, message string) error {
	return b.execute("publish", channel, func() error { return b.store.Publish(ctx, channel, message) })
}

func (b *BreakerStore) Set(ctx context.Context, key, value string) error {
	return b.execute("set", key, func() error { return b.store.Set(ctx, key, value) })
}

// Get bypasses the breaker.
func (b *BreakerStore) Get(ctx context.Context, key string) (string, error) {
	return b.store.Get(ctx, key)
}

// Health bypasses the breaker so readiness reflects the real connection.
func (b *BreakerStore) Health(ctx context.Context) error {
	return b.store.Health(ctx)
}

func (b *BreakerStore) Close() error {
	return b.store.Close()
}

var _ interfaces.Store = (*BreakerStore)(nil)
