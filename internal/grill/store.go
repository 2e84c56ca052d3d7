package grill

import (
	"sort"
	"sync"
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

// Store caches the latest Record per grill.
//
// Stored records are never mutated after insertion: updates swap in a new
// record, and every accessor returns a copy. All methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Apply parses raw and replaces the device's record with it. A malformed
// message is logged and returned; the previous record is left untouched.
func (s *Store) Apply(deviceID string, raw []byte) error {
	rec, err := Parse(raw)
	if err != nil {
		s.logger.Warn("discarding malformed grill message", "device_id", deviceID, "error", err)
		return err
	}

	s.mu.Lock()
	s.records[deviceID] = rec
	s.mu.Unlock()

	s.logger.Debug("grill state updated", "device_id", deviceID)
	return nil
}

// Record returns a copy of the device's full record.
func (s *Store) Record(deviceID string) (Record, bool) {
	rec := s.get(deviceID)
	if rec == nil {
		return Record{}, false
	}
	return *rec.clone(), true
}

// Status returns the status sub-document.
func (s *Store) Status(deviceID string) (Status, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Status == nil {
		return Status{}, false
	}
	return rec.Status.clone(), true
}

// Details returns the details sub-document.
func (s *Store) Details(deviceID string) (Details, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Details == nil {
		return Details{}, false
	}
	return *rec.Details, true
}

// Limits returns the limits sub-document.
func (s *Store) Limits(deviceID string) (Limits, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Limits == nil {
		return Limits{}, false
	}
	return *rec.Limits, true
}

// Settings returns the settings sub-document.
func (s *Store) Settings(deviceID string) (Settings, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Settings == nil {
		return Settings{}, false
	}
	return *rec.Settings, true
}

// Features returns the features sub-document.
func (s *Store) Features(deviceID string) (Features, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Features == nil {
		return Features{}, false
	}
	return *rec.Features, true
}

// Accessory returns the accessory with the given UUID.
func (s *Store) Accessory(deviceID, uuid string) (Accessory, bool) {
	rec := s.get(deviceID)
	if rec == nil || rec.Status == nil {
		return Accessory{}, false
	}
	for _, acc := range rec.Status.Accessories {
		if acc.UUID == uuid {
			return acc.clone(), true
		}
	}
	return Accessory{}, false
}

// Units returns Celsius only when the device reported units == 0;
// anything else, including no status at all, is Fahrenheit.
func (s *Store) Units(deviceID string) Units {
	rec := s.get(deviceID)
	if rec == nil {
		return Fahrenheit
	}
	return rec.Units()
}

// MarkAllUnavailable clears the connected flag on every cached status,
// keeping the last-known values.
func (s *Store) MarkAllUnavailable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		if rec.Status == nil || !rec.Status.Connected {
			continue
		}
		next := rec.clone()
		next.Status.Connected = false
		s.records[id] = next
	}
}

// IDs returns the ids of every cached device, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (s *Store) get(deviceID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[deviceID]
}
