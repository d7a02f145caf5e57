package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

// Client publishes identity events and the service status to an MQTT
// broker. It never subscribes.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	// up tracks our own view of the session; paho's IsConnected is true
	// while it is still retrying after a drop.
	up atomic.Bool

	mu    sync.RWMutex
	hooks hooks
}

// hooks are the optional observers attached after construction.
type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect dials the broker described by cfg and waits for the first
// session. A retained "online" status is published on every (re)connect and
// the broker publishes the "offline" will if the service drops.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, topics: NewTopics(cfg.TopicPrefix)}

	opts := clientOptions(cfg)
	setWill(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := waitToken(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine and may still be pending.
	c.up.Store(true)
	return c, nil
}

// newWithClient wraps an already connected paho client.
func newWithClient(cfg config.MQTTConfig, pc pahomqtt.Client) *Client {
	c := &Client{client: pc, cfg: cfg, topics: NewTopics(cfg.TopicPrefix)}
	c.up.Store(true)
	return c
}

// waitToken blocks until tok completes or timeout elapses.
func waitToken(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return tok.Error()
}

func (c *Client) observers() hooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

func (c *Client) handleConnect() {
	c.up.Store(true)
	c.publishStatus(onlineStatus(c.cfg.Broker.ClientID))

	if fn := c.observers().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.up.Store(false)

	h := c.observers()
	if h.logger != nil {
		h.logger.Warn("event broker connection lost", "error", err)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// publishStatus sends a retained status payload and returns without
// waiting for the broker.
func (c *Client) publishStatus(payload string) pahomqtt.Token {
	return c.client.Publish(c.topics.Status(), statusQoS, true, payload)
}

// Close announces a graceful shutdown on the status topic and disconnects.
// Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		// Best effort: the will covers a lost offline message.
		_ = waitToken(c.publishStatus(offlineStatus(c.cfg.Broker.ClientID)), defaultPublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesceMs)
	c.up.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both the wrapper and paho consider the
// session live.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.client.IsConnected()
}

// SetOnConnect registers fn to run after every successful (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.hooks.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.hooks.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger attaches a logger for connection warnings.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.hooks.logger = logger
	c.mu.Unlock()
}
