package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/grill-link/internal/clock"
	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
)

// minWatchDelay keeps the watchdog from spinning once a lease is inside
// the renew window.
const minWatchDelay = time.Second

// Cloud is the device cloud as the Coordinator uses it. *cloud.Client
// satisfies it.
type Cloud interface {
	Commander
	ListDevices(ctx context.Context) ([]cloud.Device, error)
}

// Options configures a Coordinator.
type Options struct {
	Cloud  Cloud
	Leases LeaseSource
	Dialer Dialer
	// Clock defaults to clock.Real.
	Clock clock.Clock

	// TickInterval is the longest the watchdog sleeps between checks.
	TickInterval time.Duration
	// DeviceListRetries is how many times a failed device listing is
	// retried during Start.
	DeviceListRetries int
	// DeviceListBackoff is the first retry delay; it doubles per attempt.
	DeviceListBackoff time.Duration
	// DeviceListJitter randomizes each retry delay by up to this fraction.
	DeviceListJitter float64

	Supervisor SupervisorConfig
	Logger     Logger
}

// Coordinator is the entry point for consumers: it starts and stops the
// session, runs the renewal watchdog and exposes device state and
// commands.
//
// The Store and Registry live as long as the Coordinator, so observers
// may be registered before Start. After Stop, Start begins a new session
// with a fresh Supervisor.
type Coordinator struct {
	cloud    Cloud
	leases   LeaseSource
	dialer   Dialer
	clock    clock.Clock
	opts     Options
	store    *grill.Store
	registry *grill.Registry
	logger   Logger

	mu        sync.Mutex
	starting  bool
	started   bool
	stopped   bool
	devices   []cloud.Device
	sup       *Supervisor
	cancel    context.CancelFunc
	watchDone chan struct{}
	end       *ending
}

// ending is closed once when a session ends and records why.
type ending struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newEnding() *ending {
	return &ending{done: make(chan struct{})}
}

func (e *ending) finish(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *ending) cause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// NewCoordinator creates a Coordinator. Nothing touches the network until
// Start.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 30 * time.Second
	}
	if opts.DeviceListRetries < 0 {
		opts.DeviceListRetries = 0
	}
	if opts.DeviceListBackoff <= 0 {
		opts.DeviceListBackoff = 2 * time.Second
	}
	opts.Supervisor = opts.Supervisor.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	store := grill.NewStore()
	registry := grill.NewRegistry()
	store.SetLogger(logger)
	registry.SetLogger(logger)

	return &Coordinator{
		cloud:    opts.Cloud,
		leases:   opts.Leases,
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		opts:     opts,
		store:    store,
		registry: registry,
		logger:   logger,
		end:      newEnding(),
	}
}

// Store returns the device state store.
func (c *Coordinator) Store() *grill.Store {
	return c.store
}

// Start lists the account's devices (retrying with backoff), connects to
// the broker and launches the watchdog. Any failure is returned and leaves
// the Coordinator unstarted. A session that ended on its own must be
// stopped before it can be started again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || (c.started && !c.stopped) {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	var devices []cloud.Device
	err := retryWithBackoff(ctx, c.clock, retryConfig{
		Attempts:  c.opts.DeviceListRetries + 1,
		BaseDelay: c.opts.DeviceListBackoff,
		Jitter:    c.opts.DeviceListJitter,
	}, func() error {
		var listErr error
		devices, listErr = c.cloud.ListDevices(ctx)
		if listErr != nil {
			c.logger.Warn("device listing failed", "error", listErr)
		}
		return listErr
	})
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ThingName)
	}

	sup := NewSupervisor(c.leases, c.dialer, c.cloud, c.store, c.registry, ids, c.opts.Supervisor)
	sup.SetLogger(c.logger)
	if err := sup.Connect(ctx); err != nil {
		sup.abandon()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	c.mu.Lock()
	if c.stopped {
		c.end = newEnding()
		c.stopped = false
	}
	end := c.end
	c.devices = devices
	c.sup = sup
	c.cancel = cancel
	c.watchDone = watchDone
	c.started = true
	c.mu.Unlock()
	go c.watch(watchCtx, sup, end, watchDone)

	c.logger.Info("session started", "devices", len(devices))
	return nil
}

// watch is the renewal loop. It sleeps until shortly before the lease
// expires (at most one tick), then runs Supervisor.Check.
func (c *Coordinator) watch(ctx context.Context, sup *Supervisor, end *ending, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.watchDelay(sup)):
		}

		err := sup.Check(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if fatal(err) {
			c.logger.Error("session cannot continue; shutting down", "error", err)
			sup.Shutdown(context.Background())
			end.finish(err)
			return
		}
		c.logger.Warn("session renewal failed; retrying next tick", "error", err)
	}
}

// watchDelay is min(tick, max(leaseRemaining-renewWindow, 1s)).
func (c *Coordinator) watchDelay(sup *Supervisor) time.Duration {
	lease := sup.Lease()
	if lease.IsZero() {
		return c.opts.TickInterval
	}
	untilRenew := c.leases.Remaining(lease.Expiry) - c.opts.Supervisor.RenewWindow
	return min(c.opts.TickInterval, max(untilRenew, minWatchDelay))
}

// fatal reports whether a watchdog error ends the session: the broker
// refused or could not be reached, or the credentials were rejected.
// Lease failures and network trouble reaching the cloud are retried.
func fatal(err error) bool {
	if errors.Is(err, ErrConnect) {
		return true
	}
	return errors.Is(err, cloud.ErrAuth) && !errors.Is(err, cloud.ErrTransport)
}

// Stop shuts the session down: the watchdog exits, the transport is closed,
// every device is marked unavailable and observers get a final round.
// Calling Stop again, or before Start, does nothing.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.started || c.stopped {
		started, stopped := c.started, c.stopped
		c.mu.Unlock()
		c.logger.Debug("stop ignored", "started", started, "stopped", stopped)
		return
	}
	c.stopped = true
	cancel, watchDone, sup, end := c.cancel, c.watchDone, c.sup, c.end
	c.mu.Unlock()

	cancel()
	select {
	case <-watchDone:
	case <-ctx.Done():
		c.logger.Warn("watchdog did not exit before stop deadline", "error", ctx.Err())
	}
	sup.Shutdown(ctx)
	end.finish(nil)
	c.logger.Info("session stopped")
}

// Done is closed when the current session has ended, by Stop or on its own.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end.done
}

// Err returns the error that ended the current session on its own, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	end := c.end
	c.mu.Unlock()
	return end.cause()
}

// HealthCheck reports whether the broker connection is up.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}
	return sup.HealthCheck(ctx)
}

// ConnectionState returns the broker connection state.
func (c *Coordinator) ConnectionState() State {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return StateIdle
	}
	return sup.State()
}

// Stats returns the supervisor's counters, zero before Start.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return Stats{}
	}
	return sup.Stats()
}

// Devices returns the device listing fetched by Start.
func (c *Coordinator) Devices() ([]cloud.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, ErrNotStarted
	}
	return append([]cloud.Device(nil), c.devices...), nil
}

// Register adds an observer for deviceID (or grill.AllDevices).
func (c *Coordinator) Register(deviceID string, obs grill.Observer) {
	c.registry.Register(deviceID, obs)
}

// RegisterFunc adds a keyed function observer; see grill.Registry.RegisterFunc.
func (c *Coordinator) RegisterFunc(deviceID, key string, fn grill.ObserverFunc) {
	c.registry.RegisterFunc(deviceID, key, fn)
}

// Record returns a consistent copy of everything the device last pushed.
func (c *Coordinator) Record(deviceID string) (grill.Record, bool) {
	return c.store.Record(deviceID)
}

// Status returns the device's live telemetry.
func (c *Coordinator) Status(deviceID string) (grill.Status, bool) {
	return c.store.Status(deviceID)
}

// Details returns the device's descriptive fields.
func (c *Coordinator) Details(deviceID string) (grill.Details, bool) {
	return c.store.Details(deviceID)
}

// Limits returns the device's limits.
func (c *Coordinator) Limits(deviceID string) (grill.Limits, bool) {
	return c.store.Limits(deviceID)
}

// Settings returns the device's model and firmware information.
func (c *Coordinator) Settings(deviceID string) (grill.Settings, bool) {
	return c.store.Settings(deviceID)
}

// Features returns the device's capability flags.
func (c *Coordinator) Features(deviceID string) (grill.Features, bool) {
	return c.store.Features(deviceID)
}

// Accessory returns one accessory of the device.
func (c *Coordinator) Accessory(deviceID, uuid string) (grill.Accessory, bool) {
	return c.store.Accessory(deviceID, uuid)
}

// Units returns the device's temperature unit.
func (c *Coordinator) Units(deviceID string) grill.Units {
	return c.store.Units(deviceID)
}

// Available reports whether the device is known and connected.
func (c *Coordinator) Available(deviceID string) bool {
	rec, _ := c.store.Record(deviceID)
	return rec.Available()
}

// SwitchAvailable reports whether feature switches can be toggled in the
// device's current mode.
func (c *Coordinator) SwitchAvailable(deviceID string) bool {
	rec, _ := c.store.Record(deviceID)
	return rec.SwitchAvailable()
}

// SetTemperature sets the grill's target temperature.
func (c *Coordinator) SetTemperature(ctx context.Context, deviceID string, temp int) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.SetTemperature(temp))
}

// SetProbeTemperature sets the probe's target temperature.
func (c *Coordinator) SetProbeTemperature(ctx context.Context, deviceID string, temp int) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.SetProbeTemperature(temp))
}

// SetTimerSeconds starts the cook timer.
func (c *Coordinator) SetTimerSeconds(ctx context.Context, deviceID string, seconds int) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.SetTimer(seconds))
}

// SetSwitch toggles a feature such as keep-warm or super-smoke.
func (c *Coordinator) SetSwitch(ctx context.Context, deviceID string, sw cloud.Switch) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.SwitchCommand(sw))
}

// ShutdownDevice starts the grill's shutdown sequence.
func (c *Coordinator) ShutdownDevice(ctx context.Context, deviceID string) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.Shutdown())
}

// RequestState asks the grill to push its full state.
func (c *Coordinator) RequestState(ctx context.Context, deviceID string) error {
	return c.cloud.SendCommand(ctx, deviceID, cloud.RequestState())
}
