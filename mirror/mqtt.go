// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package mirror republishes dispatcher channel events to an MQTT broker.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
)

// publisher is the part of the paho client the mirror uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTMirror is an event sink publishing each event to
// <prefix>/<channel>.
type MQTTMirror struct {
	client publisher
	cfg    Config
}

// Message is the JSON payload of a mirrored event.
type Message struct {
	Key       string `json:"key"`
	HomeID    string `json:"home_id"`
	NodeID    string `json:"node_id"`
	Label     string `json:"label,omitempty"`
	Value     string `json:"value,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Topic joins prefix and channel. An empty prefix yields the bare channel.
func Topic(prefix, channel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return channel
	}
	return prefix + "/" + channel
}

func validate(cfg Config) error {
	if cfg.Broker == "" {
		return errors.NewConfigError("mqtt.broker", "", errors.ErrInvalidConfig)
	}
	if cfg.QoS > maxQoS {
		return errors.NewConfigError("mqtt.qos", fmt.Sprint(cfg.QoS), errors.ErrInvalidConfig)
	}
	return nil
}

// Connect dials the broker and announces the bridge online on
// <prefix>/status. A last will marks it offline if the connection drops.
func Connect(cfg Config) (*MQTTMirror, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(statusTopic(cfg.TopicPrefix), statusPayload(cfg.ClientID, "offline"), 1, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		c.Publish(statusTopic(cfg.TopicPrefix), 1, true, statusPayload(cfg.ClientID, "online"))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, errors.NewNetworkError("mqtt connect", cfg.Broker, fmt.Errorf("timeout after %v", defaultConnectTimeout))
	}
	if err := token.Error(); err != nil {
		return nil, errors.NewNetworkError("mqtt connect", cfg.Broker, err)
	}

	return newMirror(client, cfg), nil
}

func newMirror(client publisher, cfg Config) *MQTTMirror {
	return &MQTTMirror{client: client, cfg: cfg}
}

// HandleEvent publishes e. It waits for the broker acknowledgement up to
// ctx's deadline or the publish timeout, whichever comes first.
func (m *MQTTMirror) HandleEvent(ctx context.Context, e interfaces.Event) error {
	if !m.client.IsConnected() {
		metrics.MirrorPublishErrors.Inc()
		return errors.NewNetworkError("mqtt publish", m.cfg.Broker, errors.ErrNotConnected)
	}

	msg := Message{
		Key:       e.Key,
		HomeID:    keys.Hex32(e.HomeID),
		NodeID:    keys.Hex8(e.NodeID),
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.HasValue {
		msg.Label = e.Label
		msg.Value = e.Value
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic := Topic(m.cfg.TopicPrefix, e.Channel)
	token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retain, payload)

	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		metrics.MirrorPublishErrors.Inc()
		return ctx.Err()
	case <-timer.C:
		metrics.MirrorPublishErrors.Inc()
		return errors.NewNetworkError("mqtt publish", m.cfg.Broker, fmt.Errorf("timeout after %v", defaultPublishTimeout))
	}
	if err := token.Error(); err != nil {
		metrics.MirrorPublishErrors.Inc()
		return errors.NewNetworkError("mqtt publish", m.cfg.Broker, err)
	}

	logger.Debug().Str("topic", topic).Str("key", e.Key).Msg("Mirrored event")
	return nil
}

// Close announces the bridge offline and disconnects.
func (m *MQTTMirror) Close() {
	if m.client.IsConnected() {
		token := m.client.Publish(statusTopic(m.cfg.TopicPrefix), 1, true, statusPayload(m.cfg.ClientID, "offline"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	m.client.Disconnect(defaultDisconnectQuiesce)
	logger.Info().Str("broker", m.cfg.Broker).Msg("MQTT mirror closed")
}

var _ interfaces.EventSink = (*MQTTMirror)(nil)
