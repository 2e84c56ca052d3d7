package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
	"github.com/nerrad567/grill-link/internal/infrastructure/config"
	"github.com/nerrad567/grill-link/internal/infrastructure/logging"
	"github.com/nerrad567/grill-link/internal/session"
)

// fakeSession serves a store populated by the test and records commands.
type fakeSession struct {
	store      *grill.Store
	devices    []cloud.Device
	notStarted bool
	cmdErr     error
	healthErr  error

	mu       sync.Mutex
	commands []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		store: grill.NewStore(),
		devices: []cloud.Device{
			{ThingName: "grill-1", FriendlyName: "Patio"},
			{ThingName: "grill-2", FriendlyName: "Garage"},
		},
	}
}

func (f *fakeSession) Devices() ([]cloud.Device, error) {
	if f.notStarted {
		return nil, session.ErrNotStarted
	}
	return f.devices, nil
}

func (f *fakeSession) Record(id string) (grill.Record, bool) { return f.store.Record(id) }

func (f *fakeSession) ConnectionState() session.State { return session.StateConnected }
func (f *fakeSession) Stats() session.Stats           { return session.Stats{Received: 3} }

func (f *fakeSession) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeSession) record(id string, cmd cloud.Command) error {
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, id+":"+string(cmd))
	return nil
}

func (f *fakeSession) SetTemperature(_ context.Context, id string, t int) error {
	return f.record(id, cloud.SetTemperature(t))
}

func (f *fakeSession) SetProbeTemperature(_ context.Context, id string, t int) error {
	return f.record(id, cloud.SetProbeTemperature(t))
}

func (f *fakeSession) SetTimerSeconds(_ context.Context, id string, s int) error {
	return f.record(id, cloud.SetTimer(s))
}

func (f *fakeSession) SetSwitch(_ context.Context, id string, sw cloud.Switch) error {
	return f.record(id, cloud.SwitchCommand(sw))
}

func (f *fakeSession) ShutdownDevice(_ context.Context, id string) error {
	return f.record(id, cloud.Shutdown())
}

func (f *fakeSession) RequestState(_ context.Context, id string) error {
	return f.record(id, cloud.RequestState())
}

func (f *fakeSession) lastCommand() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return ""
	}
	return f.commands[len(f.commands)-1]
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func newTestServer(t *testing.T, sess *fakeSession) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Deps{Logger: testLogger(), Session: sess, Version: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Session: newFakeSession()}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without session succeeded")
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, newFakeSession())

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var body map[string]any
	decode(t, resp, &body)

	if body["status"] != "ok" || body["connection"] != "connected" {
		t.Errorf("health body = %v", body)
	}
}

func TestHealth_BrokerDown(t *testing.T) {
	fake := newFakeSession()
	fake.healthErr = session.ErrNotConnected
	_, ts := newTestServer(t, fake)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)

	if body["status"] != "degraded" || body["broker_error"] != session.ErrNotConnected.Error() {
		t.Errorf("health body = %v", body)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	_, ts := newTestServer(t, newFakeSession())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestListDevices(t *testing.T) {
	sess := newFakeSession()
	if err := sess.store.Apply("grill-1", []byte(`{"status":{"connected":1,"grill":225,"units":1}}`)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	_, ts := newTestServer(t, sess)

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET /devices error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Devices []DeviceView `json:"devices"`
		Count   int          `json:"count"`
	}
	decode(t, resp, &body)

	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	first := body.Devices[0]
	if first.ThingName != "grill-1" || first.FriendlyName != "Patio" || !first.Available {
		t.Errorf("first device = %+v", first)
	}
	if first.Status == nil || first.Status.GrillTemp != 225 {
		t.Errorf("first device status = %+v", first.Status)
	}
	if first.Units != "F" {
		t.Errorf("units = %q, want F", first.Units)
	}
	if body.Devices[1].Available || body.Devices[1].Status != nil {
		t.Errorf("second device = %+v, want no state", body.Devices[1])
	}
}

func TestListDevices_NotStarted(t *testing.T) {
	sess := newFakeSession()
	sess.notStarted = true
	_, ts := newTestServer(t, sess)

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET /devices error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGetDevice(t *testing.T) {
	_, ts := newTestServer(t, newFakeSession())

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/devices/grill-2", http.StatusOK},
		{"/api/v1/devices/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s error = %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		body       string
		wantStatus int
		wantCmd    string
	}{
		{"set temperature", "grill-1", `{"action":"set_temperature","value":225}`, http.StatusAccepted, "grill-1:11,225"},
		{"probe temperature", "grill-1", `{"action":"set_probe_temperature","value":165}`, http.StatusAccepted, "grill-1:14,165"},
		{"timer", "grill-2", `{"action":"set_timer","value":600}`, http.StatusAccepted, "grill-2:12,600"},
		{"keep warm on", "grill-1", `{"action":"keep_warm","value":1}`, http.StatusAccepted, "grill-1:18"},
		{"super smoke off", "grill-1", `{"action":"super_smoke","value":0}`, http.StatusAccepted, "grill-1:21"},
		{"shutdown", "grill-1", `{"action":"shutdown"}`, http.StatusAccepted, "grill-1:17"},
		{"refresh", "grill-1", `{"action":"refresh"}`, http.StatusAccepted, "grill-1:90"},
		{"missing value", "grill-1", `{"action":"set_temperature"}`, http.StatusBadRequest, ""},
		{"negative timer", "grill-1", `{"action":"set_timer","value":-1}`, http.StatusBadRequest, ""},
		{"unknown action", "grill-1", `{"action":"ignite"}`, http.StatusBadRequest, ""},
		{"bad json", "grill-1", `{`, http.StatusBadRequest, ""},
		{"unknown device", "nope", `{"action":"refresh"}`, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			_, ts := newTestServer(t, sess)

			resp, err := http.Post(ts.URL+"/api/v1/devices/"+tt.device+"/commands", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := sess.lastCommand(); got != tt.wantCmd {
				t.Errorf("command = %q, want %q", got, tt.wantCmd)
			}
		})
	}
}

func TestCommand_CloudFailure(t *testing.T) {
	sess := newFakeSession()
	sess.cmdErr = errors.New("command rejected")
	_, ts := newTestServer(t, sess)

	resp, err := http.Post(ts.URL+"/api/v1/devices/grill-1/commands", "application/json",
		strings.NewReader(`{"action":"shutdown"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	var body Error
	decode(t, resp, &body)

	if resp.StatusCode != http.StatusBadGateway || body.Code != ErrCodeUpstream {
		t.Errorf("status = %d code = %q, want 502 %s", resp.StatusCode, body.Code, ErrCodeUpstream)
	}
}

func TestWebSocket_DeviceUpdates(t *testing.T) {
	sess := newFakeSession()
	srv, ts := newTestServer(t, sess)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceUpdated}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	if err := sess.store.Apply("grill-1", []byte(`{"status":{"connected":1,"grill":180}}`)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := srv.DeviceUpdated("grill-1"); err != nil {
		t.Fatalf("DeviceUpdated() error = %v", err)
	}

	var event struct {
		Type      string     `json:"type"`
		EventType string     `json:"event_type"`
		Payload   DeviceView `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelDeviceUpdated {
		t.Errorf("event = %+v", event)
	}
	if event.Payload.ThingName != "grill-1" || event.Payload.Status == nil || event.Payload.Status.GrillTemp != 180 {
		t.Errorf("event payload = %+v", event.Payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, ts := newTestServer(t, newFakeSession())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var reply WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply.Type != WSTypePong || reply.ID != "p" {
		t.Errorf("reply = %+v, want pong p", reply)
	}
}
