package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/grill-link/internal/clock"
	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/infrastructure/mqtt"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport records subscriptions and lets tests inject messages.
type fakeTransport struct {
	url string

	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	topics   []string

	done         chan struct{}
	once         sync.Once
	disconnected bool
	lostErr      error
}

func newFakeTransport(url string) *fakeTransport {
	return &fakeTransport{
		url:      url,
		handlers: make(map[string]mqtt.MessageHandler),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lostErr
}

func (f *fakeTransport) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-f.done:
		return mqtt.ErrNotConnected
	default:
		return nil
	}
}

// drop simulates the broker going away.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.lostErr = errors.New("connection reset by peer")
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

// deliverOn runs the handler subscribed for deviceID with an arbitrary topic.
func (f *fakeTransport) deliverOn(deviceID, topic, payload string) error {
	f.mu.Lock()
	h := f.handlers[mqtt.Topics{}.DeviceUpdate(deviceID)]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no subscription for %s", deviceID)
	}
	return h(topic, []byte(payload))
}

func (f *fakeTransport) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeTransport) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

// deliver runs the handler for deviceID as the transport loop would.
func (f *fakeTransport) deliver(deviceID, payload string) error {
	topic := mqtt.Topics{}.DeviceUpdate(deviceID)
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no subscription for %s", topic)
	}
	return h(topic, []byte(payload))
}

// fakeDialer hands out fakeTransports and records every dial.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failFrom   int // dial number (1-based) from which dials fail; 0 never
	onDial     func()
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	if d.onDial != nil {
		d.onDial()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.transports) + 1
	if d.failFrom > 0 && n >= d.failFrom {
		return nil, errors.New("broker refused connection")
	}
	t := newFakeTransport(url)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

// stubExchanger issues day-long tokens and leases with a fixed TTL.
type stubExchanger struct {
	clk      clock.Clock
	leaseTTL time.Duration

	mu       sync.Mutex
	leases   int
	leaseErr error
}

func (s *stubExchanger) Authenticate(context.Context, cloud.Credentials) (cloud.Token, error) {
	return cloud.Token{Value: "tok", Expiry: s.clk.Now().Add(24 * time.Hour)}, nil
}

func (s *stubExchanger) IssueLease(context.Context, cloud.Token) (cloud.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaseErr != nil {
		return cloud.Lease{}, s.leaseErr
	}
	s.leases++
	return cloud.Lease{
		URL:    fmt.Sprintf("wss://broker.example/mqtt?lease=%d", s.leases),
		Expiry: s.clk.Now().Add(s.leaseTTL),
	}, nil
}

func (s *stubExchanger) leaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases
}

// fakeCloud records commands and serves a fixed device list.
type fakeCloud struct {
	mu        sync.Mutex
	devices   []cloud.Device
	listFails int
	listCalls int
	commands  []string
}

func (f *fakeCloud) ListDevices(context.Context) ([]cloud.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listCalls <= f.listFails {
		return nil, fmt.Errorf("%w: %w", cloud.ErrDeviceList, cloud.ErrTransport)
	}
	return f.devices, nil
}

func (f *fakeCloud) SendCommand(_ context.Context, deviceID string, cmd cloud.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, deviceID+":"+string(cmd))
	return nil
}

func (f *fakeCloud) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
