package mqtt

import (
	"crypto/tls"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/grill-link/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the config leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when the config leaves it unset.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options for one signed-URL connection.
//
// This configures:
//   - Broker URL, used verbatim (the query string carries the signature)
//   - A unique client id per connection
//   - Clean session, no auto-reconnect and no connect retry
//   - TLS for wss:// and ssl:// brokers
func buildClientOptions(brokerURL, clientID string, cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)

	opts.SetCleanSession(true)

	// A dropped connection is reported through Done; the session layer
	// redials with a fresh signed URL on its own schedule.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(connectTimeout(cfg))
	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	// Deliver messages one at a time in arrival order.
	opts.SetOrderMatters(true)

	opts.SetTLSConfig(&tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify, //nolint:gosec // opt-in for test brokers
	})

	return opts
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return time.Duration(cfg.ConnectTimeout) * time.Second
	}
	return defaultConnectTimeout
}

// newClientID returns prefix-<uuid>. Ids must be unique per connection or
// the broker drops the older session.
func newClientID(prefix string) string {
	if prefix == "" {
		prefix = "grilllink"
	}
	return prefix + "-" + uuid.NewString()
}
