package session

import (
	"context"

	"github.com/nerrad567/grill-link/internal/infrastructure/config"
	"github.com/nerrad567/grill-link/internal/infrastructure/mqtt"
)

// MQTTDialer dials the cloud broker with the mqtt package.
type MQTTDialer struct {
	Config config.MQTTConfig
	Logger mqtt.Logger
}

// Dial opens a websocket MQTT connection to url.
func (d MQTTDialer) Dial(ctx context.Context, url string) (Transport, error) {
	client, err := mqtt.Dial(ctx, url, d.Config)
	if err != nil {
		return nil, err
	}
	if d.Logger != nil {
		client.SetLogger(d.Logger)
	}
	return client, nil
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}
