// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dispatcher_test

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/soothill/zwave-redis-bridge/dispatcher"
	"github.com/soothill/zwave-redis-bridge/pkg/barrier"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/storage"
	"github.com/soothill/zwave-redis-bridge/zwave"
	"github.com/soothill/zwave-redis-bridge/zwave/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNetworkDiscovery drives the simulated network through a real Redis
// protocol server and checks what an external consumer would observe.
func TestNetworkDiscovery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := storage.NewRedisStore(ctx, storage.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	opts := zwave.DefaultOptions("")
	opts.PollInterval = 0
	rt := sim.New(opts, sim.DefaultNetwork())
	defer rt.Destroy()

	sub := mr.NewSubscriber()
	sub.Subscribe(keys.ChannelValueAdd)
	sub.Subscribe(keys.ChannelNodeAdd)

	counts := make(chan map[string]int, 1)
	go func() {
		seen := map[string]int{}
		for msg := range sub.Messages() {
			seen[msg.Channel]++
			if seen[keys.ChannelNodeAdd]+seen[keys.ChannelValueAdd] == 6 {
				counts <- maps.Clone(seen)
			}
		}
	}()

	d := dispatcher.New(ctx, rt, store)
	rt.AddWatcher(d.Handle)
	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	state, err := d.Barrier().Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, barrier.Ready, state)
	rt.Sync()

	home := zwave.HomeID(0x0184e2c1)
	assert.Equal(t, home, d.HomeID())

	basic := zwave.ValueID{HomeID: home, NodeID: 2, Genre: zwave.GenreBasic, CommandClassID: zwave.CommandClassBasic, Instance: 1, Type: zwave.TypeByte}
	valueKey := keys.ValueKey(home, 2, basic)
	nodeKey := keys.NodeKey(home, 2)

	assert.Equal(t, "Basic", mr.HGet(valueKey, "label"))
	assert.Equal(t, "0", mr.HGet(valueKey, "initial_value"))
	assert.Equal(t, "20", mr.HGet(valueKey, "commandClassId"))
	assert.Equal(t, "Dimmer 2", mr.HGet(nodeKey, "prodName"))
	assert.Equal(t, "0", mr.HGet(nodeKey, "v_Basic"))
	assert.Equal(t, "21.5", mr.HGet(keys.NodeKey(home, 3), "v_Temperature"))

	// Two non-controller basic values; the controller has none.
	assert.Equal(t, 2, d.Registry().Len())

	// Three nodes and three resolved values were announced.
	select {
	case seen := <-counts:
		assert.Equal(t, 3, seen[keys.ChannelNodeAdd])
		assert.Equal(t, 3, seen[keys.ChannelValueAdd])
	case <-time.After(2 * time.Second):
		t.Fatal("announcements missing")
	}
}

func TestNodeExclusionClearsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := storage.NewRedisStore(ctx, storage.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	opts := zwave.DefaultOptions("")
	opts.PollInterval = 0
	rt := sim.New(opts, sim.DefaultNetwork())
	defer rt.Destroy()

	d := dispatcher.New(ctx, rt, store)
	rt.AddWatcher(d.Handle)
	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))
	rt.Sync()

	home := zwave.HomeID(0x0184e2c1)
	require.True(t, mr.Exists(keys.NodeKey(home, 2)))

	require.NoError(t, rt.ExcludeNode(2))
	rt.Sync()

	assert.False(t, mr.Exists(keys.NodeKey(home, 2)))
	basic := zwave.ValueID{HomeID: home, NodeID: 2, Genre: zwave.GenreBasic, CommandClassID: zwave.CommandClassBasic, Instance: 1, Type: zwave.TypeByte}
	assert.False(t, mr.Exists(keys.ValueKey(home, 2, basic)))
	assert.False(t, d.Registry().Contains(basic))
	assert.True(t, mr.Exists(keys.NodeKey(home, 3)))
}
