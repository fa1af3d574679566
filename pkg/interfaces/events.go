// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// Event is a channel publication made by the dispatcher, handed to the
// optional sinks after the store write.
type Event struct {
	Channel string
	Key     string
	HomeID  uint32
	NodeID  uint8
	Label   string // value label, for value events
	Value   string // resolved value string, when HasValue
	// HasValue is set on value add/update events whose string resolved.
	HasValue bool
	Time     time.Time
}

// EventSink receives dispatcher events. Implementations must not block for
// long: HandleEvent runs on the notification delivery goroutine.
type EventSink interface {
	HandleEvent(ctx context.Context, e Event) error
	Close()
}
