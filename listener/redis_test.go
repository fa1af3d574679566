// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package listener_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/soothill/zwave-redis-bridge/listener"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/storage"
	"github.com/soothill/zwave-redis-bridge/zwave"
	"github.com/soothill/zwave-redis-bridge/zwave/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activeHome zwave.HomeID

func (h activeHome) HomeID() zwave.HomeID { return zwave.HomeID(h) }

func TestListenerOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	opts := zwave.DefaultOptions("")
	opts.PollInterval = 0
	rt := sim.New(opts, sim.DefaultNetwork())
	defer rt.Destroy()

	subscriber := storage.NewRedisSubscriber(storage.RedisOptions{Addr: mr.Addr()})
	defer subscriber.Close()

	home := zwave.HomeID(0x0184e2c1)
	l := listener.New(subscriber, rt, activeHome(home))

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(keys.ChannelControl)[keys.ChannelControl] == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish(keys.ChannelTurnOnNode, "0184e2c1:02")
	mr.Publish(keys.ChannelSetNodeName, "0184e2c1:02:Hall")
	mr.Publish(keys.ChannelControl, "exit")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not exit")
	}

	basic := zwave.ValueID{HomeID: home, NodeID: 2, Genre: zwave.GenreBasic, CommandClassID: zwave.CommandClassBasic, Instance: 1, Type: zwave.TypeByte}
	level, ok := rt.ValueAsString(basic)
	assert.True(t, ok)
	assert.Equal(t, "255", level)
	assert.Equal(t, "Hall", rt.NodeName(home, 2))

	for _, ch := range keys.CommandChannels() {
		assert.Zero(t, mr.PubSubNumSub(ch)[ch], "still subscribed to %s", ch)
	}
}
