package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/grill-link/internal/clock"
)

// Fixed identity-provider protocol values.
const (
	identityContentType = "application/x-amz-json-1.1"
	identityTarget      = "AWSCognitoIdentityProviderService.InitiateAuth"
	identityAuthFlow    = "USER_PASSWORD_AUTH"
	amzDateFormat       = "20060102T150405Z"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIOptions configures the raw cloud API.
type APIOptions struct {
	IdentityURL string
	ClientID    string
	BaseURL     string
	Timeout     time.Duration

	// HTTP defaults to an *http.Client with Timeout.
	HTTP Doer
	// Clock defaults to clock.Real.
	Clock  clock.Clock
	Logger Logger
}

// API performs the individual HTTPS exchanges with the identity provider
// and the device cloud. It holds no token state; see Auth for that.
type API struct {
	identityURL string
	clientID    string
	baseURL     string
	timeout     time.Duration
	http        Doer
	clock       clock.Clock
	logger      Logger
}

// NewAPI creates an API from opts.
func NewAPI(opts APIOptions) *API {
	a := &API{
		identityURL: opts.IdentityURL,
		clientID:    opts.ClientID,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		http:        opts.HTTP,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if a.timeout <= 0 {
		a.timeout = 60 * time.Second
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: a.timeout}
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.logger == nil {
		a.logger = noopLogger{}
	}
	return a
}

type initiateAuthRequest struct {
	ClientMetadata map[string]string `json:"ClientMetadata"`
	AuthParameters map[string]string `json:"AuthParameters"`
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
}

type initiateAuthResponse struct {
	AuthenticationResult *struct {
		IDToken   *string `json:"IdToken"`
		ExpiresIn *int64  `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

// Authenticate exchanges credentials for an identity token. The expiry is
// measured from the moment the request was sent.
func (a *API) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	body, err := json.Marshal(initiateAuthRequest{
		ClientMetadata: map[string]string{},
		AuthParameters: map[string]string{
			"USERNAME": creds.Username,
			"PASSWORD": creds.Password,
		},
		AuthFlow: identityAuthFlow,
		ClientID: a.clientID,
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: encoding request: %w", ErrAuth, err)
	}

	started := a.clock.Now()
	headers := http.Header{}
	headers.Set("Content-Type", identityContentType)
	headers.Set("X-Amz-Target", identityTarget)
	headers.Set("X-Amz-Date", started.UTC().Format(amzDateFormat))

	raw, err := a.do(ctx, http.MethodPost, a.identityURL, headers, body)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	var resp initiateAuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Token{}, fmt.Errorf("%w: decoding response: %w", ErrAuth, err)
	}
	result := resp.AuthenticationResult
	if result == nil || result.IDToken == nil || *result.IDToken == "" || result.ExpiresIn == nil {
		return Token{}, fmt.Errorf("%w: response missing IdToken or ExpiresIn", ErrAuth)
	}

	tok := Token{
		Value:  *result.IDToken,
		Expiry: started.Add(time.Duration(*result.ExpiresIn) * time.Second),
	}
	if claims, err := inspectIDToken(tok.Value); err == nil {
		tok.Subject = claims.Subject
	} else {
		a.logger.Debug("identity token claims unreadable", "error", err)
	}
	return tok, nil
}

type leaseResponse struct {
	SignedURL         *string `json:"signedUrl"`
	ExpirationSeconds *int64  `json:"expirationSeconds"`
}

// IssueLease requests a signed broker URL.
func (a *API) IssueLease(ctx context.Context, tok Token) (Lease, error) {
	started := a.clock.Now()
	raw, err := a.do(ctx, http.MethodPost, a.baseURL+"/mqtt-connections", a.authHeaders(tok), nil)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: %w", ErrLease, err)
	}

	var resp leaseResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Lease{}, fmt.Errorf("%w: decoding response: %w", ErrLease, err)
	}
	if resp.SignedURL == nil || *resp.SignedURL == "" || resp.ExpirationSeconds == nil {
		return Lease{}, fmt.Errorf("%w: response missing signedUrl or expirationSeconds", ErrLease)
	}

	return Lease{
		URL:    *resp.SignedURL,
		Expiry: started.Add(time.Duration(*resp.ExpirationSeconds) * time.Second),
	}, nil
}

type deviceListResponse struct {
	Things []map[string]any `json:"things"`
}

// ListDevices returns every device registered to the account.
func (a *API) ListDevices(ctx context.Context, tok Token) ([]Device, error) {
	raw, err := a.do(ctx, http.MethodGet, a.baseURL+"/users/self", a.authHeaders(tok), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceList, err)
	}

	var resp deviceListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrDeviceList, err)
	}
	if resp.Things == nil {
		return nil, fmt.Errorf("%w: response missing things", ErrDeviceList)
	}

	devices := make([]Device, 0, len(resp.Things))
	for _, thing := range resp.Things {
		name, _ := thing["thingName"].(string)
		if name == "" {
			a.logger.Warn("skipping device without thingName")
			continue
		}
		friendly, _ := thing["friendlyName"].(string)
		devices = append(devices, Device{ThingName: name, FriendlyName: friendly, Raw: thing})
	}
	return devices, nil
}

type commandRequest struct {
	Command string `json:"command"`
}

// SendCommand submits cmd for the named device. Success means the cloud
// accepted it, not that the device executed it.
func (a *API) SendCommand(ctx context.Context, tok Token, deviceID string, cmd Command) error {
	body, err := json.Marshal(commandRequest{Command: string(cmd)})
	if err != nil {
		return fmt.Errorf("%w: encoding request: %w", ErrCommand, err)
	}

	endpoint := a.baseURL + "/things/" + url.PathEscape(deviceID) + "/commands"
	headers := a.authHeaders(tok)
	headers.Set("Content-Type", "application/json")

	if _, err := a.do(ctx, http.MethodPost, endpoint, headers, body); err != nil {
		return fmt.Errorf("%w: %q for %s: %w", ErrCommand, cmd, deviceID, err)
	}
	return nil
}

func (a *API) authHeaders(tok Token) http.Header {
	h := http.Header{}
	h.Set("Authorization", tok.Value)
	h.Set("Accept", "application/json")
	h.Set("X-Request-Id", uuid.NewString())
	return h
}

// do performs one bounded request and returns the body of a 2xx response.
// Network failures are reported as ErrTransport; non-2xx responses as
// *StatusError.
func (a *API) do(ctx context.Context, method, endpoint string, headers http.Header, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	req.Header = headers

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, redactURL(endpoint), err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: redactURL(endpoint), Code: resp.StatusCode, Body: snippet(raw)}
	}
	return raw, nil
}

// StatusError reports a non-2xx response. Server-side failures (5xx, 429)
// match ErrTransport and are worth retrying; other 4xx responses mean the
// request itself was refused.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Is reports whether the status counts as a transport failure.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransport && e.Retryable()
}

// Retryable reports whether the server, rather than the request, failed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
