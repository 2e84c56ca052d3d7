package cloud

import (
	"context"
	"sync"
)

// Caller performs authenticated device-cloud calls. *API satisfies it.
type Caller interface {
	ListDevices(ctx context.Context, tok Token) ([]Device, error)
	SendCommand(ctx context.Context, tok Token, deviceID string, cmd Command) error
}

// Client issues authenticated cloud calls, ensuring a fresh token before
// each one.
type Client struct {
	api  Caller
	auth *Auth

	mu     sync.RWMutex
	logger Logger
}

// NewClient creates a Client.
func NewClient(api Caller, auth *Auth) *Client {
	return &Client{api: api, auth: auth, logger: noopLogger{}}
}

// SetLogger sets the logger for client operations.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// ListDevices returns the account's devices.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	tok, err := c.auth.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := c.api.ListDevices(ctx, tok)
	if err != nil {
		c.log().Warn("device listing failed", "error", err)
		return nil, err
	}
	c.log().Debug("devices listed", "count", len(devices))
	return devices, nil
}

// SendCommand submits cmd for deviceID. Commands are fire-and-forget and
// never retried here; the error is for the caller to act on or ignore.
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd Command) error {
	tok, err := c.auth.EnsureToken(ctx)
	if err != nil {
		c.log().Warn("command not sent", "device_id", deviceID, "command", string(cmd), "error", err)
		return err
	}
	if err := c.api.SendCommand(ctx, tok, deviceID, cmd); err != nil {
		c.log().Warn("command failed", "device_id", deviceID, "command", string(cmd), "error", err)
		return err
	}
	c.log().Debug("command accepted", "device_id", deviceID, "command", string(cmd))
	return nil
}
