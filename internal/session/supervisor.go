package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
	"github.com/nerrad567/grill-link/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport is one live broker connection. *mqtt.Client satisfies it.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Disconnect()
	Done() <-chan struct{}
	// Err is why the connection dropped, nil after a deliberate Disconnect.
	Err() error
	HealthCheck(ctx context.Context) error
}

// Dialer opens a Transport against a signed broker URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// LeaseSource hands out fresh broker leases. *cloud.Auth satisfies it.
type LeaseSource interface {
	EnsureLease(ctx context.Context) (cloud.Lease, error)
	Remaining(expiry time.Time) time.Duration
}

// Commander sends device commands. *cloud.Client satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, deviceID string, cmd cloud.Command) error
}

// SupervisorConfig tunes a Supervisor.
type SupervisorConfig struct {
	// QoS is the subscription QoS; the cloud broker expects 1.
	QoS byte
	// EventBuffer bounds the queue between the transport and the dispatcher.
	EventBuffer int
	// RenewWindow is how close to lease expiry a reconnect is forced.
	RenewWindow time.Duration
	// ShutdownTimeout bounds the wait for the dispatcher on Shutdown.
	ShutdownTimeout time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.RenewWindow <= 0 {
		c.RenewWindow = cloud.DefaultRenewWindow
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// event is one unit of work for the dispatcher: an inbound message, or a
// dropped connection (deviceID empty).
type event struct {
	deviceID string
	payload  []byte
}

// Stats are running counters for one Supervisor.
type Stats struct {
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

// Supervisor owns the broker connection for a fixed set of devices.
//
// Inbound messages are handed from the transport to a single dispatcher
// goroutine over a bounded channel. The dispatcher applies each message to
// the Store and then notifies the Registry, so per-device ordering is
// arrival order and observers always run after the update they announce.
// The channel outlives individual connections, so a renewal does not lose
// queued messages.
type Supervisor struct {
	leases   LeaseSource
	dialer   Dialer
	cmds     Commander
	store    *grill.Store
	registry *grill.Registry
	devices  []string
	cfg      SupervisorConfig
	logger   Logger

	// opMu serialises Connect, Check and Shutdown.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	transport Transport
	lease     cloud.Lease

	events       chan event
	stop         chan struct{}
	dispatchDone chan struct{}
	dispatchOnce sync.Once

	received   atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// NewSupervisor creates an idle Supervisor for devices.
func NewSupervisor(
	leases LeaseSource,
	dialer Dialer,
	cmds Commander,
	store *grill.Store,
	registry *grill.Registry,
	devices []string,
	cfg SupervisorConfig,
) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		leases:   leases,
		dialer:   dialer,
		cmds:     cmds,
		store:    store,
		registry: registry,
		devices:  append([]string(nil), devices...),
		cfg:      cfg,
		logger:   noopLogger{},
		state:    StateIdle,
		events:   make(chan event, cfg.EventBuffer),
		stop:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Lease returns the lease the current connection was opened with.
func (s *Supervisor) Lease() cloud.Lease {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lease
}

// Stats returns the message counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Received:   s.received.Load(),
		Dropped:    s.dropped.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("session state changed", "from", prev.String(), "to", st.String())
	}
}

// Connect obtains a lease, opens the transport, subscribes every device
// topic and asks each device for a full state push.
// On failure the Supervisor returns to Idle.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case StateShuttingDown, StateDisconnected:
		return ErrClosed
	case StateConnected:
		return nil
	}

	s.setState(StateConnecting)
	lease, err := s.leases.EnsureLease(ctx)
	if err != nil {
		s.setState(StateIdle)
		return err
	}
	if err := s.open(ctx, lease); err != nil {
		s.setState(StateIdle)
		return err
	}
	return nil
}

// open dials lease.URL and subscribes. The caller holds opMu.
func (s *Supervisor) open(ctx context.Context, lease cloud.Lease) error {
	t, err := s.dialer.Dial(ctx, lease.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	for _, id := range s.devices {
		topic := mqtt.Topics{}.DeviceUpdate(id)
		if err := t.Subscribe(topic, s.cfg.QoS, s.handlerFor(id)); err != nil {
			t.Disconnect()
			return fmt.Errorf("%w: subscribing %s: %w", ErrConnect, id, err)
		}
	}

	s.mu.Lock()
	s.transport = t
	s.lease = lease
	s.state = StateConnected
	s.mu.Unlock()

	s.dispatchOnce.Do(func() {
		s.dispatchDone = make(chan struct{})
		go s.dispatch()
	})
	go s.watch(t)

	s.logger.Info("broker session connected",
		"devices", len(s.devices),
		"lease_expires_in", s.leases.Remaining(lease.Expiry).Round(time.Second),
	)

	s.requestState(ctx)
	return nil
}

// requestState asks every device for a full push. Failures are logged only.
func (s *Supervisor) requestState(ctx context.Context) {
	if s.cmds == nil {
		return
	}
	for _, id := range s.devices {
		if err := s.cmds.SendCommand(ctx, id, cloud.RequestState()); err != nil {
			s.logger.Warn("state refresh request failed", "device_id", id, "error", err)
		}
	}
}

// handlerFor returns the transport callback for one device. It only copies
// the payload into the event queue; it never blocks. Messages whose topic
// does not name deviceID are dropped.
func (s *Supervisor) handlerFor(deviceID string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		if id, ok := (mqtt.Topics{}).DeviceFromTopic(topic); !ok || id != deviceID {
			s.dropped.Add(1)
			s.logger.Warn("message on unexpected topic dropped", "topic", topic, "device_id", deviceID)
			return nil
		}
		ev := event{deviceID: deviceID, payload: bytes.Clone(payload)}
		select {
		case s.events <- ev:
			s.received.Add(1)
			return nil
		default:
			s.dropped.Add(1)
			return fmt.Errorf("%w: device %s", ErrEventDropped, deviceID)
		}
	}
}

// watch reports an unexpected drop of t. The Supervisor goes Idle at once
// and the dispatcher marks every device unavailable.
func (s *Supervisor) watch(t Transport) {
	select {
	case <-t.Done():
	case <-s.stop:
		return
	}

	s.mu.Lock()
	current := s.transport == t
	if current && s.state == StateConnected {
		s.state = StateIdle
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.logger.Warn("broker connection dropped; reconnecting on next check", "error", t.Err())
	select {
	case s.events <- event{}:
	case <-s.stop:
	}
}

// dispatch is the single consumer of the event queue.
func (s *Supervisor) dispatch() {
	defer close(s.dispatchDone)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) handle(ev event) {
	if ev.deviceID == "" {
		s.markUnavailable()
		return
	}
	if err := s.store.Apply(ev.deviceID, ev.payload); err != nil {
		return
	}
	s.registry.Notify(ev.deviceID)
}

// markUnavailable notifies every listed device and every cached one,
// since a record left from an earlier session is marked too.
func (s *Supervisor) markUnavailable() {
	s.store.MarkAllUnavailable()
	s.registry.NotifyAll(append(s.store.IDs(), s.devices...)...)
}

// transportDown reports whether the current transport has gone away.
func (s *Supervisor) transportDown() bool {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return true
	}
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// HealthCheck reports whether the broker connection is up.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return ErrNotConnected
	}
	if err := t.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Check is one watchdog step. It reconnects when the lease is within the
// renew window or the transport has dropped, and does nothing otherwise.
//
// A failed lease request leaves a still-live connection in place. A failed
// dial leaves the Supervisor Idle and returns ErrConnect.
func (s *Supervisor) Check(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case StateShuttingDown, StateDisconnected:
		return ErrClosed
	}

	down := s.transportDown()
	remaining := s.leases.Remaining(s.Lease().Expiry)
	if !down && remaining >= s.cfg.RenewWindow {
		return nil
	}

	s.logger.Info("renewing broker session",
		"transport_down", down,
		"lease_remaining", remaining.Round(time.Second),
	)
	s.setState(StateRenewing)

	lease, err := s.leases.EnsureLease(ctx)
	if err != nil {
		if down {
			s.setState(StateIdle)
		} else {
			s.setState(StateConnected)
		}
		return err
	}

	s.mu.Lock()
	old := s.transport
	s.transport = nil
	s.mu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	if err := s.open(ctx, lease); err != nil {
		s.setState(StateIdle)
		return err
	}
	s.reconnects.Add(1)
	return nil
}

// Shutdown disconnects the transport, waits (bounded) for the dispatcher
// to exit, marks every device unavailable and runs a final notification
// round. Further calls are no-ops.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdown(ctx, true)
}

// abandon closes a Supervisor whose Connect failed. Observers are not
// notified: they never saw this session.
func (s *Supervisor) abandon() {
	s.shutdown(context.Background(), false)
}

func (s *Supervisor) shutdown(ctx context.Context, notify bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case StateShuttingDown, StateDisconnected:
		s.logger.Debug("shutdown already done")
		return
	}
	s.setState(StateShuttingDown)

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}

	close(s.stop)
	if s.dispatchDone != nil {
		select {
		case <-s.dispatchDone:
		case <-time.After(s.cfg.ShutdownTimeout):
			s.logger.Warn("dispatcher did not exit in time", "timeout", s.cfg.ShutdownTimeout)
		case <-ctx.Done():
			s.logger.Warn("shutdown wait cancelled", "error", ctx.Err())
		}
	}

	if notify {
		s.markUnavailable()
	}
	s.setState(StateDisconnected)
	s.logger.Info("broker session closed", "received", s.received.Load(), "dropped", s.dropped.Load())
}
