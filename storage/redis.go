// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides the Redis connections used by the bridge, the
// circuit breaker guarding store writes, and the optional InfluxDB value
// history.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
)

// RedisOptions configures a Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o RedisOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	})
}

// RedisStore is the command connection used by the dispatcher.
type RedisStore struct {
	client *redis.Client
	addr   string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := opts.client()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewNetworkError("connect", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return &RedisStore{client: client, addr: opts.Addr}, nil
}

// Addr returns the address the store is connected to.
func (s *RedisStore) Addr() string {
	return s.addr
}

func observe(op, key string, err error) error {
	metrics.StoreWritesTotal.WithLabelValues(op).Inc()
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues(op).Inc()
		return errors.NewStorageError(op, key, err)
	}
	return nil
}

// HSet writes all fields on key with a single HSET. Fields are sent in
// sorted order.
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]interface{}, 0, 2*len(names))
	for _, name := range names {
		args = append(args, name, fields[name])
	}
	return observe("hset", key, s.client.HSet(ctx, key, args...).Err())
}

// Del deletes key.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	return observe("del", key, s.client.Del(ctx, key).Err())
}

// Publish emits message on channel.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	err := observe("publish", channel, s.client.Publish(ctx, channel, message).Err())
	if err == nil {
		metrics.PublicationsTotal.WithLabelValues(channel).Inc()
	}
	return err
}

// Set writes a plain string key without expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return observe("set", key, s.client.Set(ctx, key, value, 0).Err())
}

// Get reads a plain string key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", errors.NewStorageError("get", key, err)
	}
	return v, nil
}

// Health pings the server.
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	logger.Info().Str("addr", s.addr).Msg("Closing Redis connection")
	return s.client.Close()
}

var _ interfaces.Store = (*RedisStore)(nil)
