// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/soothill/zwave-redis-bridge/zwave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		msg  string
		want Command
	}{
		{"00000001:05:ff", Command{HomeID: 1, NodeID: 5, Level: 0xff, Text: "ff"}},
		{"00000001:05", Command{HomeID: 1, NodeID: 5}},
		{"0184e2c1:02:3f", Command{HomeID: 0x0184e2c1, NodeID: 2, Level: 0x3f, Text: "3f"}},
		{"x:1", Command{NodeID: 1}},
		{"", Command{}},
		{"00000001:05:Kitchen", Command{HomeID: 1, NodeID: 5, Text: "Kitchen"}},
		{"00000001:05:Front:Door", Command{HomeID: 1, NodeID: 5, Text: "Front"}},
		{"00000001:1ff:10", Command{HomeID: 1, NodeID: 0, Level: 0x10, Text: "10"}},
		{"0x00000001:0x05:0x10", Command{HomeID: 1, NodeID: 5, Level: 0x10, Text: "0x10"}},
		{"fffffffff:05", Command{NodeID: 5}},
		{"exit", Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Parse(tt.msg)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.msg, got, tt.want)
			}
		})
	}
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{"00000001:05:ff", "00000001:05", "x:1", "exit", "::", "a:b:c:d"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, msg string) {
		cmd := Parse(msg)
		if len(cmd.Text) > len(msg) {
			t.Errorf("text %q longer than message %q", cmd.Text, msg)
		}
		for _, r := range cmd.Text {
			if r == ':' {
				t.Errorf("text %q contains a field separator", cmd.Text)
			}
		}
	})
}

type call struct {
	op    string
	home  zwave.HomeID
	node  zwave.NodeID
	level uint8
	text  string
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (c *fakeController) record(cl call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cl)
	return c.err
}

func (c *fakeController) SetNodeOn(home zwave.HomeID, node zwave.NodeID) error {
	return c.record(call{op: "on", home: home, node: node})
}

func (c *fakeController) SetNodeOff(home zwave.HomeID, node zwave.NodeID) error {
	return c.record(call{op: "off", home: home, node: node})
}

func (c *fakeController) SetNodeLevel(home zwave.HomeID, node zwave.NodeID, level uint8) error {
	return c.record(call{op: "level", home: home, node: node, level: level})
}

func (c *fakeController) SetNodeName(home zwave.HomeID, node zwave.NodeID, name string) error {
	return c.record(call{op: "name", home: home, node: node, text: name})
}

func (c *fakeController) SetNodeLocation(home zwave.HomeID, node zwave.NodeID, location string) error {
	return c.record(call{op: "location", home: home, node: node, text: location})
}

func (c *fakeController) snapshot() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type fixedHome zwave.HomeID

func (h fixedHome) HomeID() zwave.HomeID { return zwave.HomeID(h) }

// fakeSubscription behaves like a pub/sub connection: confirmations on
// subscribe and unsubscribe, and messages pushed by the test.
type fakeSubscription struct {
	mu       sync.Mutex
	events   chan interfaces.SubscriptionEvent
	channels []string
	closed   bool
}

func (s *fakeSubscription) Events() <-chan interfaces.SubscriptionEvent { return s.events }

func (s *fakeSubscription) Unsubscribe(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(channels) == 0 {
		channels = s.channels
	}
	remaining := len(s.channels)
	for _, ch := range channels {
		remaining--
		s.events <- interfaces.SubscriptionEvent{Kind: interfaces.KindUnsubscribe, Channel: ch, Count: remaining}
	}
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) publish(channel, payload string) {
	s.events <- interfaces.SubscriptionEvent{Kind: interfaces.KindMessage, Channel: channel, Payload: payload}
}

type fakeSubscriber struct {
	sub        *fakeSubscription
	err        error
	subscribed chan struct{}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channels ...string) (interfaces.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sub.channels = channels
	for i, ch := range channels {
		f.sub.events <- interfaces.SubscriptionEvent{Kind: interfaces.KindSubscribe, Channel: ch, Count: i + 1}
	}
	close(f.subscribed)
	return f.sub, nil
}

func (f *fakeSubscriber) Close() error { return nil }

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		sub:        &fakeSubscription{events: make(chan interfaces.SubscriptionEvent, 64)},
		subscribed: make(chan struct{}),
	}
}

func runAsync(ctx context.Context, l *Listener) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
		return nil
	}
}

func TestRunDispatchesAndExits(t *testing.T) {
	subscriber := newFakeSubscriber()
	ctrl := &fakeController{}
	l := New(subscriber, ctrl, fixedHome(0x0184e2c1))

	done := runAsync(context.Background(), l)

	s := subscriber.sub
	s.publish(keys.ChannelTurnOnNode, "0184e2c1:02")
	s.publish(keys.ChannelTurnOffNode, "0184e2c1:02")
	s.publish(keys.ChannelSetNodeLevel, "0184e2c1:02:3f")
	s.publish(keys.ChannelSetNodeName, "0184e2c1:02:Hall")
	s.publish(keys.ChannelSetNodeLocation, "0184e2c1:02:Downstairs")
	s.publish(keys.ChannelControl, "exit")
	s.publish(keys.ChannelTurnOnNode, "0184e2c1:03")

	require.NoError(t, waitDone(t, done))

	home := zwave.HomeID(0x0184e2c1)
	assert.Equal(t, []call{
		{op: "on", home: home, node: 2},
		{op: "off", home: home, node: 2},
		{op: "level", home: home, node: 2, level: 0x3f},
		{op: "name", home: home, node: 2, text: "Hall"},
		{op: "location", home: home, node: 2, text: "Downstairs"},
	}, ctrl.snapshot())
	assert.True(t, s.closed)
}

func TestControlsTargetActiveNetwork(t *testing.T) {
	subscriber := newFakeSubscriber()
	ctrl := &fakeController{}
	l := New(subscriber, ctrl, fixedHome(0x0184e2c1))

	done := runAsync(context.Background(), l)
	subscriber.sub.publish(keys.ChannelTurnOnNode, "00000001:05")
	subscriber.sub.publish(keys.ChannelControl, "exit")
	require.NoError(t, waitDone(t, done))

	calls := ctrl.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, zwave.HomeID(0x0184e2c1), calls[0].home)
	assert.Equal(t, zwave.NodeID(5), calls[0].node)
}

func TestExitAsThirdField(t *testing.T) {
	subscriber := newFakeSubscriber()
	l := New(subscriber, &fakeController{}, fixedHome(1))

	done := runAsync(context.Background(), l)
	subscriber.sub.publish(keys.ChannelControl, "00000001:00:exit")
	require.NoError(t, waitDone(t, done))
}

func TestUnknownControlWordKeepsRunning(t *testing.T) {
	subscriber := newFakeSubscriber()
	ctrl := &fakeController{}
	l := New(subscriber, ctrl, fixedHome(1))

	done := runAsync(context.Background(), l)
	subscriber.sub.publish(keys.ChannelControl, "reboot")
	subscriber.sub.publish(keys.ChannelTurnOnNode, "00000001:05")
	subscriber.sub.publish(keys.ChannelControl, "exit")
	require.NoError(t, waitDone(t, done))

	assert.Len(t, ctrl.snapshot(), 1)
}

func TestControlFailureIsContained(t *testing.T) {
	subscriber := newFakeSubscriber()
	ctrl := &fakeController{err: errors.New("unknown node")}
	l := New(subscriber, ctrl, fixedHome(1))

	counter := metrics.CommandErrors.WithLabelValues(keys.ChannelTurnOffNode)
	before := testutil.ToFloat64(counter)

	done := runAsync(context.Background(), l)
	subscriber.sub.publish(keys.ChannelTurnOffNode, "00000001:2a")
	subscriber.sub.publish(keys.ChannelTurnOffNode, "00000001:2b")
	subscriber.sub.publish(keys.ChannelControl, "exit")
	require.NoError(t, waitDone(t, done))

	assert.Len(t, ctrl.snapshot(), 2)
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRunStopsOnContext(t *testing.T) {
	subscriber := newFakeSubscriber()
	l := New(subscriber, &fakeController{}, fixedHome(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, l)
	cancel()

	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestRunSubscribeError(t *testing.T) {
	subscriber := newFakeSubscriber()
	subscriber.err = fmt.Errorf("dial: %w", errors.New("connection refused"))
	l := New(subscriber, &fakeController{}, fixedHome(1))

	assert.Error(t, l.Run(context.Background()))
}

func TestRunConnectionLost(t *testing.T) {
	subscriber := newFakeSubscriber()
	l := New(subscriber, &fakeController{}, fixedHome(1))

	done := runAsync(context.Background(), l)
	<-subscriber.subscribed
	close(subscriber.sub.events)

	assert.Error(t, waitDone(t, done))
}
