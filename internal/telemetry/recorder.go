// Package telemetry records grill readings to a time-series sink.
package telemetry

import (
	"time"

	"github.com/nerrad567/grill-link/internal/clock"
	"github.com/nerrad567/grill-link/internal/grill"
)

// Measurement names.
const (
	MeasurementStatus = "grill_status"
	MeasurementProbe  = "grill_probe"
)

// PointWriter accepts time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// StatusSource looks up a device's current status. *grill.Store satisfies it.
type StatusSource interface {
	Status(deviceID string) (grill.Status, bool)
}

// Recorder is a grill.Observer that writes one status point per update,
// plus one point per connected probe.
type Recorder struct {
	source StatusSource
	writer PointWriter
	clock  clock.Clock
}

// NewRecorder creates a Recorder. A nil clk means wall-clock time.
func NewRecorder(source StatusSource, writer PointWriter, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recorder{source: source, writer: writer, clock: clk}
}

// DeviceUpdated implements grill.Observer. Devices without a status
// document are skipped.
func (r *Recorder) DeviceUpdated(deviceID string) error {
	status, ok := r.source.Status(deviceID)
	if !ok {
		return nil
	}
	now := r.clock.Now()

	r.writer.WritePoint(MeasurementStatus,
		map[string]string{"device_id": deviceID},
		map[string]any{
			"connected":     bool(status.Connected),
			"system_status": int(status.SystemStatus),
			"grill":         status.GrillTemp,
			"set":           status.SetTemp,
			"ambient":       status.Ambient,
			"pellet_level":  status.PelletLevel,
			"keepwarm":      bool(status.KeepWarm),
			"smoke":         bool(status.Smoke),
		},
		now)

	for _, acc := range status.Accessories {
		if acc.Probe == nil || !acc.Online() {
			continue
		}
		r.writer.WritePoint(MeasurementProbe,
			map[string]string{"device_id": deviceID, "probe": acc.UUID},
			map[string]any{
				"get_temp":    acc.Probe.GetTemp,
				"set_temp":    acc.Probe.SetTemp,
				"alarm_fired": bool(acc.Probe.AlarmFired),
			},
			now)
	}
	return nil
}
