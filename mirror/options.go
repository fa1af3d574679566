// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package mirror

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

// Config configures the MQTT mirror.
type Config struct {
	Broker      string // host:port, or a full tcp://, ssl:// or ws:// URL
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Username    string
	Password    string
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	url := brokerURL(cfg.Broker)
	opts.AddBroker(url)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if strings.HasPrefix(url, "ssl://") || strings.HasPrefix(url, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

func statusTopic(prefix string) string {
	return Topic(prefix, "status")
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":"%s","client_id":"%s","timestamp":"%s"}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}
