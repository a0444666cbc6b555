package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// client implements Client on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	log             logger.Logger
}

// NewClient creates an MQTT client. Zero timeouts take DefaultConfig values.
func NewClient(config Config, log logger.Logger) (Client, error) {
	if config.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	defaults := DefaultConfig()
	if config.Topic == "" {
		config.Topic = defaults.Topic
	}
	if config.ReconnectCooldown <= 0 {
		config.ReconnectCooldown = defaults.ReconnectCooldown
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.DisconnectTimeout <= 0 {
		config.DisconnectTimeout = defaults.DisconnectTimeout
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}

	return &client{config: config, log: log}, nil
}

// Connect resolves the broker host, then connects with auto reconnect enabled.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.Newf("invalid broker URL: %w", err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.Newf("failed to resolve hostname %s: %w", host, err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Context("broker", logger.RedactURL(c.config.Broker)).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = paho.NewClient(opts)

	if err := wait(ctx, c.internalClient.Connect(), c.config.ConnectTimeout); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", logger.RedactURL(c.config.Broker)).
			Build()
	}

	return nil
}

// Publish sends payload to topic at QoS 0.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	if err := wait(ctx, token, c.config.PublishTimeout); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.log.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
}

func (c *client) onConnect(_ paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", logger.RedactURL(c.config.Broker)))
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	// paho reconnects on its own
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", logger.RedactURL(c.config.Broker)),
		logger.Error(err))
}

// wait blocks until token completes, ctx ends or timeout passes.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.NewStd("mqtt operation timed out")
	}
}
