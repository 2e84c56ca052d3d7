package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
	"github.com/nerrad567/grill-link/internal/session"
)

// Command actions accepted by POST /devices/{id}/commands.
const (
	ActionSetTemperature      = "set_temperature"
	ActionSetProbeTemperature = "set_probe_temperature"
	ActionSetTimer            = "set_timer"
	ActionKeepWarm            = "keep_warm"
	ActionSuperSmoke          = "super_smoke"
	ActionShutdown            = "shutdown"
	ActionRefresh             = "refresh"
)

// DeviceView is the JSON shape of one grill.
type DeviceView struct {
	ThingName       string          `json:"thing_name"`
	FriendlyName    string          `json:"friendly_name,omitempty"`
	Available       bool            `json:"available"`
	SwitchAvailable bool            `json:"switch_available"`
	Units           string          `json:"units"`
	Status          *grill.Status   `json:"status,omitempty"`
	Details         *grill.Details  `json:"details,omitempty"`
	Limits          *grill.Limits   `json:"limits,omitempty"`
	Settings        *grill.Settings `json:"settings,omitempty"`
	Features        *grill.Features `json:"features,omitempty"`
}

// CommandRequest is the body of POST /devices/{id}/commands. Value is the
// temperature, the timer length in seconds, or 1/0 for the switches.
type CommandRequest struct {
	Action string `json:"action"`
	Value  *int   `json:"value,omitempty"`
}

// deviceView builds the view from one record snapshot, so every field
// describes the same message.
func (s *Server) deviceView(deviceID, friendlyName string) DeviceView {
	rec, _ := s.session.Record(deviceID)
	v := DeviceView{
		ThingName:       deviceID,
		FriendlyName:    friendlyName,
		Available:       rec.Available(),
		SwitchAvailable: rec.SwitchAvailable(),
		Units:           rec.Units().String(),
		Status:          rec.Status,
		Details:         rec.Details,
		Limits:          rec.Limits,
		Settings:        rec.Settings,
		Features:        rec.Features,
	}
	if v.FriendlyName == "" && rec.Details != nil {
		v.FriendlyName = rec.Details.FriendlyName
	}
	return v
}

// lookupDevice finds deviceID in the account listing. It writes the error
// response itself and reports false when the device cannot be served.
func (s *Server) lookupDevice(w http.ResponseWriter, deviceID string) (cloud.Device, bool) {
	devices, err := s.session.Devices()
	if err != nil {
		if errors.Is(err, session.ErrNotStarted) {
			writeUnavailable(w, "session not started")
		} else {
			writeInternalError(w, "listing devices failed")
		}
		return cloud.Device{}, false
	}
	idx := slices.IndexFunc(devices, func(d cloud.Device) bool { return d.ThingName == deviceID })
	if idx < 0 {
		writeNotFound(w, "device not found")
		return cloud.Device{}, false
	}
	return devices[idx], true
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.session.Devices()
	if errors.Is(err, session.ErrNotStarted) {
		writeUnavailable(w, "session not started")
		return
	}
	if err != nil {
		writeInternalError(w, "listing devices failed")
		return
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.deviceView(d.ThingName, d.FriendlyName))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(dev.ThingName, dev.FriendlyName))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.runCommand(r, dev.ThingName, req); err != nil {
		var invalid *invalidCommandError
		if errors.As(err, &invalid) {
			writeBadRequest(w, invalid.Error())
			return
		}
		s.logger.Warn("device command failed",
			"device_id", dev.ThingName,
			"action", req.Action,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud rejected the command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"action": req.Action,
	})
}

type invalidCommandError struct{ msg string }

func (e *invalidCommandError) Error() string { return e.msg }

func (s *Server) runCommand(r *http.Request, deviceID string, req CommandRequest) error {
	ctx := r.Context()

	value := func() (int, error) {
		if req.Value == nil {
			return 0, &invalidCommandError{fmt.Sprintf("%s requires a value", req.Action)}
		}
		return *req.Value, nil
	}
	toggle := func(on, off cloud.Switch) (cloud.Switch, error) {
		v, err := value()
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return on, nil
		}
		return off, nil
	}

	switch req.Action {
	case ActionSetTemperature:
		v, err := value()
		if err != nil {
			return err
		}
		return s.session.SetTemperature(ctx, deviceID, v)
	case ActionSetProbeTemperature:
		v, err := value()
		if err != nil {
			return err
		}
		return s.session.SetProbeTemperature(ctx, deviceID, v)
	case ActionSetTimer:
		v, err := value()
		if err != nil {
			return err
		}
		if v < 0 {
			return &invalidCommandError{"timer cannot be negative"}
		}
		return s.session.SetTimerSeconds(ctx, deviceID, v)
	case ActionKeepWarm:
		sw, err := toggle(cloud.KeepWarmOn, cloud.KeepWarmOff)
		if err != nil {
			return err
		}
		return s.session.SetSwitch(ctx, deviceID, sw)
	case ActionSuperSmoke:
		sw, err := toggle(cloud.SuperSmokeOn, cloud.SuperSmokeOff)
		if err != nil {
			return err
		}
		return s.session.SetSwitch(ctx, deviceID, sw)
	case ActionShutdown:
		return s.session.ShutdownDevice(ctx, deviceID)
	case ActionRefresh:
		return s.session.RequestState(ctx, deviceID)
	default:
		return &invalidCommandError{fmt.Sprintf("unknown action %q", req.Action)}
	}
}
