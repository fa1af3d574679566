// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
)

const subscriptionBufferSize = 100

// RedisSubscriber owns a Redis client reserved for pub/sub. A subscribing
// connection cannot issue ordinary commands, so it is kept apart from
// RedisStore.
type RedisSubscriber struct {
	client *redis.Client
	addr   string
}

// NewRedisSubscriber creates the subscriber client. The connection is dialled
// lazily on Subscribe.
func NewRedisSubscriber(opts RedisOptions) *RedisSubscriber {
	return &RedisSubscriber{client: opts.client(), addr: opts.Addr}
}

// Subscribe subscribes to channels. Confirmations arrive on the returned
// subscription's Events channel like any other event.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channels ...string) (interfaces.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.NewStorageError("subscribe", "", errors.New("no channels given"))
	}

	ps := s.client.Subscribe(ctx, channels...)
	sub := &redisSubscription{
		ps:       ps,
		channels: append([]string(nil), channels...),
		events:   make(chan interfaces.SubscriptionEvent, subscriptionBufferSize),
		done:     make(chan struct{}),
	}
	go sub.forward(ps.ChannelWithSubscriptions(redis.WithChannelSize(subscriptionBufferSize)))

	logger.Debug().Str("addr", s.addr).Strs("channels", channels).Msg("Subscribe requested")
	return sub, nil
}

// Close closes the subscriber client.
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	ps       *redis.PubSub
	channels []string
	events   chan interfaces.SubscriptionEvent
	done     chan struct{}
	once     sync.Once
}

func (r *redisSubscription) forward(in <-chan interface{}) {
	defer close(r.events)

	for raw := range in {
		var ev interfaces.SubscriptionEvent
		switch m := raw.(type) {
		case *redis.Subscription:
			ev = interfaces.SubscriptionEvent{Kind: m.Kind, Channel: m.Channel, Count: m.Count}
		case *redis.Message:
			ev = interfaces.SubscriptionEvent{Kind: interfaces.KindMessage, Channel: m.Channel, Payload: m.Payload}
		default:
			continue
		}

		select {
		case r.events <- ev:
		case <-r.done:
			return
		}
	}
}

func (r *redisSubscription) Events() <-chan interfaces.SubscriptionEvent {
	return r.events
}

// Unsubscribe drops the given channels; with none it drops every channel
// this subscription was opened with.
func (r *redisSubscription) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		channels = r.channels
	}
	if err := r.ps.Unsubscribe(ctx, channels...); err != nil {
		return errors.NewStorageError("unsubscribe", "", err)
	}
	return nil
}

func (r *redisSubscription) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.ps.Close()
	})
	return err
}

var _ interfaces.Subscriber = (*RedisSubscriber)(nil)
