package grill

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// AllDevices registers an observer for every device. Wildcard observers run
// after the device's own observers.
const AllDevices = "*"

// Observer is told that a device's record changed. It should read what it
// needs from the Store and return quickly; it runs on the dispatch goroutine.
type Observer interface {
	DeviceUpdated(deviceID string) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(deviceID string) error

// DeviceUpdated calls f(deviceID).
func (f ObserverFunc) DeviceUpdated(deviceID string) error {
	return f(deviceID)
}

type registration struct {
	key string
	obs Observer
}

// Registry holds ordered observer lists per device.
// All methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	observers map[string][]registration
	logger    Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[string][]registration),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register appends obs to the device's list. Registering an observer that
// is already in the list is a no-op. Observers of non-comparable types
// (such as ObserverFunc) are always appended; use RegisterFunc for those.
func (r *Registry) Register(deviceID string, obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.observers[deviceID] {
		if reg.key == "" && sameObserver(reg.obs, obs) {
			return
		}
	}
	r.observers[deviceID] = append(r.observers[deviceID], registration{obs: obs})
}

// RegisterFunc registers fn under key. Registering the same key again
// replaces the function and keeps its position.
func (r *Registry) RegisterFunc(deviceID, key string, fn ObserverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.observers[deviceID]
	for i := range list {
		if key != "" && list[i].key == key {
			list[i].obs = fn
			return
		}
	}
	r.observers[deviceID] = append(list, registration{key: key, obs: fn})
}

// Len returns how many observers are registered for the device.
func (r *Registry) Len(deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers[deviceID])
}

// Notify calls the device's observers in registration order, then the
// wildcard observers. A failing or panicking observer is logged and does
// not stop the rest.
func (r *Registry) Notify(deviceID string) {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.observers[deviceID])+len(r.observers[AllDevices]))
	regs = append(regs, r.observers[deviceID]...)
	if deviceID != AllDevices {
		regs = append(regs, r.observers[AllDevices]...)
	}
	r.mu.RUnlock()

	for i, reg := range regs {
		if err := r.call(reg.obs, deviceID); err != nil {
			r.logger.Error("grill observer failed",
				"device_id", deviceID,
				"observer", i,
				"key", reg.key,
				"error", err,
			)
		}
	}
}

// NotifyAll runs Notify for every device with observers and for each of
// the extra ids given, once per device, in sorted order.
func (r *Registry) NotifyAll(ids ...string) {
	seen := make(map[string]struct{})
	r.mu.RLock()
	for id := range r.observers {
		if id != AllDevices {
			seen[id] = struct{}{}
		}
	}
	r.mu.RUnlock()
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	all := make([]string, 0, len(seen))
	for id := range seen {
		all = append(all, id)
	}
	sort.Strings(all)

	for _, id := range all {
		r.Notify(id)
	}
}

// call runs one observer with panic recovery.
func (r *Registry) call(obs Observer, deviceID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("observer panic: %v", rec)
		}
	}()
	return obs.DeviceUpdated(deviceID)
}

func sameObserver(a, b Observer) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
