// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Nil(t, store)
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}

func TestRedisStore_HSet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "zw_node:00000001:05", map[string]string{
		"nodeName":     "Hall",
		"nodeLocation": "Downstairs",
	}))

	assert.Equal(t, "Hall", mr.HGet("zw_node:00000001:05", "nodeName"))
	assert.Equal(t, "Downstairs", mr.HGet("zw_node:00000001:05", "nodeLocation"))

	// Later writes add fields without clearing earlier ones.
	require.NoError(t, store.HSet(ctx, "zw_node:00000001:05", map[string]string{"v_Basic": "on"}))
	assert.Equal(t, "Hall", mr.HGet("zw_node:00000001:05", "nodeName"))
	assert.Equal(t, "on", mr.HGet("zw_node:00000001:05", "v_Basic"))
}

func TestRedisStore_HSetEmptyIsNoop(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.HSet(context.Background(), "k", nil))
	assert.False(t, mr.Exists("k"))
}

func TestRedisStore_DelSetGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "port", "/dev/ttyUSB0"))
	got, err := store.Get(ctx, "port")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", got)

	require.NoError(t, store.Del(ctx, "port"))
	assert.False(t, mr.Exists("port"))

	_, err = store.Get(ctx, "port")
	assert.True(t, errors.IsStorageError(err))
}

func TestRedisStore_Publish(t *testing.T) {
	store, mr := newTestStore(t)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("zw_node_add")

	// miniredis hands messages to its subscribers synchronously, so the
	// reader must be running before Publish.
	received := make(chan miniredis.PubsubMessage, 1)
	go func() {
		if msg, ok := <-sub.Messages(); ok {
			received <- msg
		}
	}()

	before := testutil.ToFloat64(metrics.PublicationsTotal.WithLabelValues("zw_node_add"))
	require.NoError(t, store.Publish(context.Background(), "zw_node_add", "zw_node:00000001:05"))

	select {
	case msg := <-received:
		assert.Equal(t, "zw_node_add", msg.Channel)
		assert.Equal(t, "zw_node:00000001:05", msg.Message)
	case <-time.After(time.Second):
		t.Fatal("publication not received")
	}
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PublicationsTotal.WithLabelValues("zw_node_add")))
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	store, mr := newTestStore(t)
	mr.SetError("LOADING server is loading")

	before := testutil.ToFloat64(metrics.StoreWriteErrors.WithLabelValues("hset"))
	err := store.HSet(context.Background(), "zw_value:00000001:05:0000000005800001", map[string]string{"label": "Basic"})
	require.Error(t, err)

	var se *errors.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "hset", se.Op)
	assert.Equal(t, "zw_value:00000001:05:0000000005800001", se.Key)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StoreWriteErrors.WithLabelValues("hset")))

	assert.Error(t, store.Health(context.Background()))
	mr.SetError("")
	assert.NoError(t, store.Health(context.Background()))
}
