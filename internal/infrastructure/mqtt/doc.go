// Package mqtt provides the broker connection for grill-link.
//
// This package manages:
//   - Dialling the cloud broker over secure websocket with a signed URL
//   - Per-device topic subscriptions at QoS 1
//   - Reporting a dropped connection through Done
//   - Connection health checks
//
// # Architecture
//
// Grills publish their full state to prod/thing/update/{thingName} on the
// vendor's broker. Access is granted by a signed wss:// URL that expires,
// so a Client is single-use: it connects once, and when it drops (or the
// URL is about to expire) the session layer disconnects it and dials a
// fresh one. paho's auto-reconnect is therefore disabled.
//
//	Grill → Cloud broker (wss) → Client → session dispatcher
//
// # Security Considerations
//
//   - The signed URL is a bearer credential; never log it
//   - TLS 1.2+ is enforced; certificate checks can only be disabled in config
//
// # Usage
//
//	client, err := mqtt.Dial(ctx, lease.URL, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceUpdate("abc123"), 1,
//	    func(topic string, payload []byte) error {
//	        events <- payload
//	        return nil
//	    })
//
//	<-client.Done() // connection ended
package mqtt
