// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
)

// Store is the command connection to the key-value store. The dispatcher
// writes through it; nothing in the bridge reads records back except the
// startup port check.
type Store interface {
	// HSet writes the given hash fields on key in one command
	HSet(ctx context.Context, key string, fields map[string]string) error

	// Del deletes key
	Del(ctx context.Context, key string) error

	// Publish emits message on channel
	Publish(ctx context.Context, channel, message string) error

	// Set writes a plain string key
	Set(ctx context.Context, key, value string) error

	// Get reads a plain string key
	Get(ctx context.Context, key string) (string, error)

	// Health checks that the store answers
	Health(ctx context.Context) error

	// Close releases the connection
	Close() error
}

// Subscription kinds reported on SubscriptionEvent.Kind.
const (
	KindSubscribe   = "subscribe"
	KindUnsubscribe = "unsubscribe"
	KindMessage     = "message"
)

// SubscriptionEvent is one item received on a subscribing connection: either
// a (un)subscribe confirmation carrying the remaining subscription count, or
// a message.
type SubscriptionEvent struct {
	Kind    string
	Channel string
	Payload string
	Count   int
}

// Subscription is an active set of channel subscriptions on a dedicated
// connection.
type Subscription interface {
	// Events delivers confirmations and messages in arrival order. It is
	// closed when the subscription is closed.
	Events() <-chan SubscriptionEvent

	// Unsubscribe drops the given channels, or every channel when none are given
	Unsubscribe(ctx context.Context, channels ...string) error

	// Close ends the subscription and its connection
	Close() error
}

// Subscriber opens subscriptions on a connection separate from Store.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}
