// Package mqtt publishes per-region RBA run summaries to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Client defines the MQTT operations the summary publisher needs.
type Client interface {
	// Connect attempts to connect to the broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // base topic, summaries go to {Topic}/{region}
	Retain            bool
	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "dipper/rba"

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             DefaultTopic,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
