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
	"github.com/testcontainers/testcontainers-go/modules/influxdb"
)

func startInfluxDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	influxContainer, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "test-bucket", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	if err != nil {
		t.Fatalf("Failed to start InfluxDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := influxContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	url, err := influxContainer.ConnectionUrl(ctx)
	if err != nil {
		t.Fatalf("Failed to get InfluxDB URL: %v", err)
	}
	return url
}

func TestIntegration_HistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	url := startInfluxDB(t)

	history, err := NewInfluxDBHistory(ctx, url, "test-token", "test-org", "test-bucket")
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	defer history.Close()

	key := "zw_value:0184e2c1:02:0000000002800001"
	for _, v := range []string{"0", "99"} {
		err := history.HandleEvent(ctx, interfaces.Event{
			Channel: "zw_value_update", Key: key, HomeID: 0x0184e2c1, NodeID: 2,
			Label: "Basic", Value: v, HasValue: true, Time: time.Now(),
		})
		if err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	history.Flush()

	// Non-value events are ignored.
	if err := history.HandleEvent(ctx, interfaces.Event{Channel: "zw_node_add", Key: "zw_node:0184e2c1:02"}); err != nil {
		t.Errorf("HandleEvent(node event) error = %v", err)
	}

	var sample *ValueSample
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sample, err = history.QueryLatestValue(ctx, key)
		if err == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("QueryLatestValue() error = %v", err)
	}
	if sample.Value != "99" {
		t.Errorf("latest value = %q, want 99", sample.Value)
	}
	if sample.Label != "Basic" {
		t.Errorf("label = %q, want Basic", sample.Label)
	}

	if err := history.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestIntegration_QueryLatestValue_EmptyKey(t *testing.T) {
	ctx := context.Background()
	url := startInfluxDB(t)

	history, err := NewInfluxDBHistory(ctx, url, "test-token", "test-org", "test-bucket")
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	defer history.Close()

	if _, err := history.QueryLatestValue(ctx, ""); err == nil {
		t.Error("QueryLatestValue(\"\") should fail")
	}
}
