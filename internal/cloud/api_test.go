package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/grill-link/internal/clock"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*API, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clk := clock.NewFake(testStart)
	api := NewAPI(APIOptions{
		IdentityURL: srv.URL + "/identity",
		ClientID:    "client-123",
		BaseURL:     srv.URL + "/prod/",
		Timeout:     2 * time.Second,
		Clock:       clk,
	})
	return api, clk
}

func signedIDToken(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Username:         "griller",
	})
	s, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// ============================================================================
// Authenticate
// ============================================================================

func TestAPI_Authenticate(t *testing.T) {
	idToken := signedIDToken(t, "acct-42")

	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/identity" {
			t.Errorf("request = %s %s, want POST /identity", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Amz-Target"); got != identityTarget {
			t.Errorf("X-Amz-Target = %q, want %q", got, identityTarget)
		}
		if got := r.Header.Get("Content-Type"); got != identityContentType {
			t.Errorf("Content-Type = %q, want %q", got, identityContentType)
		}
		if got := r.Header.Get("X-Amz-Date"); got != "20260501T120000Z" {
			t.Errorf("X-Amz-Date = %q, want 20260501T120000Z", got)
		}

		var req initiateAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.AuthFlow != "USER_PASSWORD_AUTH" || req.ClientID != "client-123" {
			t.Errorf("AuthFlow/ClientId = %q/%q", req.AuthFlow, req.ClientID)
		}
		if req.AuthParameters["USERNAME"] != "griller" || req.AuthParameters["PASSWORD"] != "secret" {
			t.Errorf("AuthParameters = %v", req.AuthParameters)
		}

		w.Write([]byte(`{"AuthenticationResult":{"IdToken":"` + idToken + `","ExpiresIn":3600}}`)) //nolint:errcheck // test
	})

	tok, err := api.Authenticate(context.Background(), Credentials{Username: "griller", Password: "secret"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if tok.Value != idToken {
		t.Errorf("Authenticate() token = %q, want signed id token", tok.Value)
	}
	if want := testStart.Add(time.Hour); !tok.Expiry.Equal(want) {
		t.Errorf("Authenticate() expiry = %v, want %v", tok.Expiry, want)
	}
	if tok.Subject != "acct-42" {
		t.Errorf("Authenticate() subject = %q, want acct-42", tok.Subject)
	}
}

func TestAPI_Authenticate_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransport bool
	}{
		{name: "missing result", status: http.StatusOK, body: `{}`},
		{name: "missing IdToken", status: http.StatusOK, body: `{"AuthenticationResult":{"ExpiresIn":3600}}`},
		{name: "missing ExpiresIn", status: http.StatusOK, body: `{"AuthenticationResult":{"IdToken":"abc"}}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
		{name: "rejected credentials", status: http.StatusBadRequest, body: `{"__type":"NotAuthorizedException"}`},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantTransport: true},
		{name: "throttled", status: http.StatusTooManyRequests, body: `slow down`, wantTransport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _ := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body) //nolint:errcheck // test
			})

			_, err := api.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"})
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("Authenticate() error = %v, want ErrAuth", err)
			}
			if got := errors.Is(err, ErrTransport); got != tt.wantTransport {
				t.Errorf("errors.Is(err, ErrTransport) = %v, want %v", got, tt.wantTransport)
			}
		})
	}
}

func TestAPI_Authenticate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	api := NewAPI(APIOptions{IdentityURL: url, BaseURL: url, Timeout: time.Second})
	_, err := api.Authenticate(context.Background(), Credentials{})
	if !errors.Is(err, ErrAuth) || !errors.Is(err, ErrTransport) {
		t.Errorf("Authenticate() error = %v, want ErrAuth and ErrTransport", err)
	}
}

// ============================================================================
// IssueLease
// ============================================================================

func TestAPI_IssueLease(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prod/mqtt-connections" {
			t.Errorf("request = %s %s, want POST /prod/mqtt-connections", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "tok-1" {
			t.Errorf("Authorization = %q, want tok-1", got)
		}
		w.Write([]byte(`{"signedUrl":"wss://broker.example/mqtt?X-Amz-Signature=s","expirationSeconds":900}`)) //nolint:errcheck // test
	})

	lease, err := api.IssueLease(context.Background(), Token{Value: "tok-1"})
	if err != nil {
		t.Fatalf("IssueLease() error = %v", err)
	}
	if lease.URL != "wss://broker.example/mqtt?X-Amz-Signature=s" {
		t.Errorf("IssueLease() URL = %q", lease.URL)
	}
	if want := testStart.Add(15 * time.Minute); !lease.Expiry.Equal(want) {
		t.Errorf("IssueLease() expiry = %v, want %v", lease.Expiry, want)
	}
}

func TestAPI_IssueLease_Malformed(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"signedUrl":"wss://broker.example/mqtt"}`)) //nolint:errcheck // test
	})

	_, err := api.IssueLease(context.Background(), Token{Value: "tok"})
	if !errors.Is(err, ErrLease) {
		t.Errorf("IssueLease() error = %v, want ErrLease", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Errorf("IssueLease() malformed response reported as transport error")
	}
}

// ============================================================================
// ListDevices / SendCommand
// ============================================================================

func TestAPI_ListDevices(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/prod/users/self" {
			t.Errorf("request = %s %s, want GET /prod/users/self", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"userId":"u1","things":[` + //nolint:errcheck // test
			`{"thingName":"grill-1","friendlyName":"Backyard","productId":"x"},` +
			`{"friendlyName":"nameless"},` +
			`{"thingName":"grill-2"}]}`))
	})

	devices, err := api.ListDevices(context.Background(), Token{Value: "tok"})
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("ListDevices() returned %d devices, want 2", len(devices))
	}
	if devices[0].ThingName != "grill-1" || devices[0].FriendlyName != "Backyard" {
		t.Errorf("devices[0] = %+v", devices[0])
	}
	if devices[0].Raw["productId"] != "x" {
		t.Errorf("devices[0].Raw missing productId: %v", devices[0].Raw)
	}
	if devices[1].ThingName != "grill-2" {
		t.Errorf("devices[1].ThingName = %q, want grill-2", devices[1].ThingName)
	}
}

func TestAPI_ListDevices_MissingThings(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"userId":"u1"}`)) //nolint:errcheck // test
	})

	if _, err := api.ListDevices(context.Background(), Token{Value: "tok"}); !errors.Is(err, ErrDeviceList) {
		t.Errorf("ListDevices() error = %v, want ErrDeviceList", err)
	}
}

func TestAPI_SendCommand(t *testing.T) {
	var gotPath, gotBody string
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})

	if err := api.SendCommand(context.Background(), Token{Value: "tok"}, "grill-1", SetTemperature(225)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if gotPath != "/prod/things/grill-1/commands" {
		t.Errorf("path = %q, want /prod/things/grill-1/commands", gotPath)
	}
	if gotBody != `{"command":"11,225"}` {
		t.Errorf("body = %s, want {\"command\":\"11,225\"}", gotBody)
	}
}

func TestAPI_SendCommand_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	api := NewAPI(APIOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	err := api.SendCommand(context.Background(), Token{Value: "tok"}, "grill-1", Shutdown())
	if !errors.Is(err, ErrCommand) || !errors.Is(err, ErrTransport) {
		t.Errorf("SendCommand() error = %v, want ErrCommand and ErrTransport", err)
	}
}

func TestStatusError_RedactsQuery(t *testing.T) {
	err := &StatusError{Method: "GET", URL: redactURL("https://h/p?X-Amz-Signature=abc"), Code: 500}
	if strings.Contains(err.Error(), "Signature") {
		t.Errorf("StatusError leaked query string: %s", err.Error())
	}
}
