package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/grill-link/internal/infrastructure/config"
)

// Client is one broker connection dialled against a signed URL.
//
// It never reconnects by itself: when the connection drops, Done is closed
// and the owner decides when to dial again (usually with a fresh URL,
// since the signature in the old one expires).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   pahomqtt.Client
	clientID string
	cfg      config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	done     chan struct{}
	doneOnce sync.Once
	lostErr  error
	errMu    sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic string
	qos   byte
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the paho router goroutine, one message at a time, in
// arrival order. A handler that blocks stalls delivery for the whole
// connection, so hand the payload off and return.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Dial connects to brokerURL (typically wss://...?X-Amz-...) and returns
// once the broker has accepted the session.
//
// Parameters:
//   - ctx: Cancels the connection attempt
//   - brokerURL: Full broker URL, used verbatim
//   - cfg: MQTT tuning from config.yaml
//
// Returns:
//   - *Client: Connected client ready for Subscribe
//   - error: ErrConnectionFailed (possibly also ErrTimeout)
func Dial(ctx context.Context, brokerURL string, cfg config.MQTTConfig) (*Client, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("%w: empty broker URL", ErrConnectionFailed)
	}

	clientID := newClientID(cfg.ClientIDPrefix)
	opts := buildClientOptions(brokerURL, clientID, cfg)

	c := &Client{
		clientID:      clientID,
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	timeout := connectTimeout(cfg)
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(timeout):
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// handleConnectionLost is called by paho when the connection drops
// without Disconnect having been called.
func (c *Client) handleConnectionLost(err error) {
	if err == nil {
		err = errors.New("connection lost")
	}
	c.errMu.Lock()
	c.lostErr = err
	c.errMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "client_id", c.clientID, "error", err)
	}
	c.markDone()
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection has ended, whether it dropped or was
// closed with Disconnect.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection dropped, or nil if it is still up or was
// closed deliberately.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lostErr
}

// ClientID returns the MQTT client id used for this connection.
func (c *Client) ClientID() string {
	return c.clientID
}

// Disconnect closes the connection, waiting briefly for in-flight work.
// Safe to call more than once and after the connection has dropped.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnectionOpen() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.markDone()
}

// HealthCheck verifies the MQTT connection is alive.
//
// Returns:
//   - error: nil if healthy, ErrNotConnected or the context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.client.IsConnectionOpen()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
