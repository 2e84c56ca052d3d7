package grill

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the last full state pushed by one grill. It is replaced as a
// whole on every message; a nil sub-document was absent from that message.
type Record struct {
	Status   *Status   `json:"status,omitempty"`
	Details  *Details  `json:"details,omitempty"`
	Limits   *Limits   `json:"limits,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
	Features *Features `json:"features,omitempty"`
}

// Units is Celsius only when the device reported units == 0; anything
// else, including no status at all, is Fahrenheit.
func (r Record) Units() Units {
	if r.Status == nil || r.Status.Units == nil || *r.Status.Units != 0 {
		return Fahrenheit
	}
	return Celsius
}

// Available reports whether the grill last said it was connected.
func (r Record) Available() bool {
	return r.Status != nil && bool(r.Status.Connected)
}

// SwitchAvailable reports whether the grill's mode accepts feature switches.
func (r Record) SwitchAvailable() bool {
	return r.Status != nil && r.Status.SystemStatus.AcceptsSwitches()
}

// Status is the live telemetry sub-document.
type Status struct {
	Connected         Flag         `json:"connected"`
	SystemStatus      SystemStatus `json:"system_status"`
	GrillTemp         int          `json:"grill"`
	SetTemp           int          `json:"set"`
	Units             *int         `json:"units,omitempty"`
	Ambient           int          `json:"ambient"`
	PelletLevel       int          `json:"pellet_level"`
	CookTimerStart    int64        `json:"cook_timer_start"`
	CookTimerEnd      int64        `json:"cook_timer_end"`
	CookTimerComplete Flag         `json:"cook_timer_complete"`
	ProbeAlarmFired   Flag         `json:"probe_alarm_fired"`
	KeepWarm          Flag         `json:"keepwarm"`
	Smoke             Flag         `json:"smoke"`
	Accessories       []Accessory  `json:"acc,omitempty"`
}

// Details holds descriptive fields.
type Details struct {
	ThingName    string `json:"thingName"`
	FriendlyName string `json:"friendlyName"`
}

// Limits holds device limits.
type Limits struct {
	MaxGrillTemp int `json:"max_grill_temp"`
}

// Settings holds model and firmware information.
type Settings struct {
	DeviceTypeID Text `json:"device_type_id"`
	FirmwareVer  Text `json:"fw_version"`
}

// Features holds capability flags.
type Features struct {
	PelletSensor Flag `json:"pellet_sensor_connected"`
	SuperSmoke   Flag `json:"super_smoke_enabled"`
}

// AccessoryType names an accessory kind.
type AccessoryType string

// Accessory kinds of interest.
const (
	AccessoryProbe   AccessoryType = "probe"
	AccessoryBTProbe AccessoryType = "btprobe"
	AccessoryHob     AccessoryType = "hob"
)

// Accessory is one entry of status.acc, such as a meat probe.
// UUID is stable for the lifetime of a session.
type Accessory struct {
	UUID           string        `json:"uuid"`
	Type           AccessoryType `json:"type"`
	Connected      Flag          `json:"con"`
	ProbeConnected Flag          `json:"probe_con"`
	Probe          *Probe        `json:"probe,omitempty"`
}

// Online reports whether the accessory is attached. Firmware sets either
// con or probe_con depending on the accessory kind.
func (a Accessory) Online() bool {
	return bool(a.Connected) || bool(a.ProbeConnected)
}

// Probe is the temperature reading of a probe accessory.
type Probe struct {
	GetTemp    int  `json:"get_temp"`
	SetTemp    int  `json:"set_temp"`
	AlarmFired Flag `json:"alarm_fired"`
}

// Flag is a boolean the firmware sends as either true/false or 1/0.
type Flag bool

// UnmarshalJSON accepts true, false, 0, 1 and null (false).
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// MarshalJSON encodes the flag as a JSON boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// Text is a string the firmware sometimes sends as a bare number.
type Text string

// UnmarshalJSON accepts a JSON string, number or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case string(data) == "null":
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid text value %s", data)
		}
		*t = Text(n.String())
	}
	return nil
}

// Units is the temperature unit a grill reports in.
type Units int

// Temperature units. Fahrenheit is the zero value and the default whenever
// the unit is unknown.
const (
	Fahrenheit Units = iota
	Celsius
)

// String returns "F" or "C".
func (u Units) String() string {
	if u == Celsius {
		return "C"
	}
	return "F"
}

// SystemStatus is the grill's operating mode code.
type SystemStatus int

// Known operating modes.
const (
	StatusSleeping   SystemStatus = 2
	StatusIdle       SystemStatus = 3
	StatusIgniting   SystemStatus = 4
	StatusPreheating SystemStatus = 5
	StatusManualCook SystemStatus = 6
	StatusCustomCook SystemStatus = 7
	StatusCoolDown   SystemStatus = 8
	StatusOffline    SystemStatus = 99
)

// String returns the mode name, or "unknown".
func (s SystemStatus) String() string {
	switch s {
	case StatusSleeping:
		return "sleeping"
	case StatusIdle:
		return "idle"
	case StatusIgniting:
		return "igniting"
	case StatusPreheating:
		return "preheating"
	case StatusManualCook:
		return "manual_cook"
	case StatusCustomCook:
		return "custom_cook"
	case StatusCoolDown:
		return "cool_down"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// AcceptsSwitches reports whether feature switches such as keep-warm and
// super-smoke can be toggled in this mode.
func (s SystemStatus) AcceptsSwitches() bool {
	return s >= StatusIgniting && s <= StatusCustomCook
}

// clone returns a deep copy of r.
func (r *Record) clone() *Record {
	out := &Record{}
	if r.Status != nil {
		s := r.Status.clone()
		out.Status = &s
	}
	if r.Details != nil {
		d := *r.Details
		out.Details = &d
	}
	if r.Limits != nil {
		l := *r.Limits
		out.Limits = &l
	}
	if r.Settings != nil {
		s := *r.Settings
		out.Settings = &s
	}
	if r.Features != nil {
		f := *r.Features
		out.Features = &f
	}
	return out
}

func (s Status) clone() Status {
	out := s
	if s.Units != nil {
		u := *s.Units
		out.Units = &u
	}
	if s.Accessories != nil {
		out.Accessories = make([]Accessory, len(s.Accessories))
		for i, a := range s.Accessories {
			out.Accessories[i] = a.clone()
		}
	}
	return out
}

func (a Accessory) clone() Accessory {
	out := a
	if a.Probe != nil {
		p := *a.Probe
		out.Probe = &p
	}
	return out
}
