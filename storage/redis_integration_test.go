// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisIntegrationSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	addr      string
}

func (s *RedisIntegrationSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err, "Failed to start Redis container")
	s.container = container

	addr, err := container.Endpoint(ctx, "")
	s.Require().NoError(err)
	s.addr = addr
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Logf("Failed to terminate container: %v", err)
		}
	}
}

func (s *RedisIntegrationSuite) TestStoreAndSubscriberUseSeparateConnections() {
	ctx := context.Background()
	opts := RedisOptions{Addr: s.addr}

	store, err := NewRedisStore(ctx, opts)
	s.Require().NoError(err)
	defer store.Close()

	subscriber := NewRedisSubscriber(opts)
	defer subscriber.Close()

	sub, err := subscriber.Subscribe(ctx, "zw_value_add")
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().Equal(interfaces.KindSubscribe, s.wait(sub).Kind)

	// The store connection keeps working while the other one is subscribed.
	s.Require().NoError(store.HSet(ctx, "zw_value:00000001:05:0000000005800001", map[string]string{"label": "Basic", "initial_value": "on"}))
	s.Require().NoError(store.Publish(ctx, "zw_value_add", "zw_value:00000001:05:0000000005800001"))

	msg := s.wait(sub)
	s.Equal(interfaces.KindMessage, msg.Kind)
	s.Equal("zw_value:00000001:05:0000000005800001", msg.Payload)

	s.Require().NoError(store.Set(ctx, "port", "usb"))
	got, err := store.Get(ctx, "port")
	s.Require().NoError(err)
	s.Equal("usb", got)
}

func (s *RedisIntegrationSuite) wait(sub interfaces.Subscription) interfaces.SubscriptionEvent {
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(5 * time.Second):
		s.FailNow("timed out waiting for subscription event")
	}
	return interfaces.SubscriptionEvent{}
}

func TestRedisIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}
