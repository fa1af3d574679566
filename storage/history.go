// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
)

const measurement = "zwave_value"

// ValueSample is one recorded value string.
type ValueSample struct {
	Key       string
	Label     string
	Value     string
	Timestamp time.Time
}

// InfluxDBHistory records every resolved value string as a time series
// point. It is an event sink: only value events carrying a value are
// written.
type InfluxDBHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

// NewInfluxDBHistory connects to InfluxDB and checks its health.
func NewInfluxDBHistory(ctx context.Context, url, token, org, bucket string) (*InfluxDBHistory, error) {
	client := influxdb2.NewClient(url, token)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	writeAPI := client.WriteAPI(org, bucket)

	go func() {
		for err := range writeAPI.Errors() {
			metrics.HistoryWriteErrors.Inc()
			logger.Error().Err(err).Msg("InfluxDB write error")
		}
	}()

	return &InfluxDBHistory{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
	}, nil
}

// Point builds the point recorded for e. Values that parse as numbers get a
// numeric field alongside the raw string.
func Point(e interfaces.Event) (*write.Point, error) {
	if !e.HasValue {
		return nil, fmt.Errorf("event on %s carries no value", e.Channel)
	}
	if e.Key == "" {
		return nil, fmt.Errorf("event key cannot be empty")
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{"value": e.Value}
	if f, err := strconv.ParseFloat(e.Value, 64); err == nil {
		fields["numeric"] = f
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"key":     e.Key,
			"home_id": keys.Hex32(e.HomeID),
			"node_id": keys.Hex8(e.NodeID),
			"label":   e.Label,
		},
		fields,
		ts,
	), nil
}

// HandleEvent queues a point for value events; other events are ignored.
func (s *InfluxDBHistory) HandleEvent(_ context.Context, e interfaces.Event) error {
	if !e.HasValue {
		return nil
	}
	p, err := Point(e)
	if err != nil {
		return err
	}
	s.writeAPI.WritePoint(p)
	metrics.HistoryWritesTotal.Inc()
	return nil
}

// Flush forces all pending writes to complete
func (s *InfluxDBHistory) Flush() {
	s.writeAPI.Flush()
}

// Close flushes pending writes and closes the client.
func (s *InfluxDBHistory) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.writeAPI.Flush()
	s.client.Close()
}

// Health reports whether InfluxDB answers its health endpoint.
func (s *InfluxDBHistory) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb status %s", health.Status)
	}
	return nil
}

// QueryLatestValue returns the most recent sample recorded for a value key
// within the last day.
func (s *InfluxDBHistory) QueryLatestValue(ctx context.Context, key string) (*ValueSample, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -24h)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.key == "%s")
			|> filter(fn: (r) => r._field == "value")
			|> last()
	`, sanitizeFluxString(s.bucket), measurement, sanitizeFluxString(key))

	result, err := s.client.QueryAPI(s.org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var sample *ValueSample
	for result.Next() {
		record := result.Record()
		sample = &ValueSample{Key: key, Timestamp: record.Time()}
		if label, ok := record.ValueByKey("label").(string); ok {
			sample.Label = label
		}
		if v, ok := record.Value().(string); ok {
			sample.Value = v
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}
	if sample == nil {
		return nil, fmt.Errorf("no samples for %s", key)
	}
	return sample, nil
}

const maxFluxStringLen = 1000

// sanitizeFluxString makes s safe to embed in a double quoted Flux string:
// quotes and backslashes are escaped, control characters dropped, and the
// input is capped at maxFluxStringLen runes.
func sanitizeFluxString(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == maxFluxStringLen {
			break
		}
		n++
		switch {
		case r == '\\' || r == '"':
			b.WriteRune('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ interfaces.EventSink = (*InfluxDBHistory)(nil)
