package cloud

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/grill-link/internal/clock"
)

// DefaultRenewWindow is how long before expiry a token or lease is
// considered stale and replaced.
const DefaultRenewWindow = 60 * time.Second

// Exchanger performs the identity and lease exchanges. *API satisfies it.
type Exchanger interface {
	Authenticate(ctx context.Context, creds Credentials) (Token, error)
	IssueLease(ctx context.Context, tok Token) (Lease, error)
}

// Auth keeps a bearer token and a broker lease fresh.
//
// Both are replaced as a whole under one mutex, so readers never observe a
// token without its expiry. Concurrent callers needing a refresh wait for
// the single exchange in progress instead of issuing their own.
type Auth struct {
	exchanger Exchanger
	creds     Credentials
	clock     clock.Clock
	window    time.Duration

	mu    sync.Mutex
	token Token
	lease Lease

	logger Logger
}

// NewAuth creates an Auth. A zero window means DefaultRenewWindow; a nil
// clock means clock.Real.
func NewAuth(ex Exchanger, creds Credentials, clk clock.Clock, window time.Duration) *Auth {
	if clk == nil {
		clk = clock.Real{}
	}
	if window <= 0 {
		window = DefaultRenewWindow
	}
	return &Auth{
		exchanger: ex,
		creds:     creds,
		clock:     clk,
		window:    window,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for auth operations.
func (a *Auth) SetLogger(logger Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = logger
}

// Remaining returns the time left until expiry; negative once it has passed.
func (a *Auth) Remaining(expiry time.Time) time.Duration {
	return expiry.Sub(a.clock.Now())
}

// Window returns the renewal window.
func (a *Auth) Window() time.Duration {
	return a.window
}

// Token returns the current token, which may be zero or stale.
func (a *Auth) Token() Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Lease returns the current lease, which may be zero or stale.
func (a *Auth) Lease() Lease {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lease
}

// EnsureToken returns a token with at least the renew window left,
// exchanging credentials if the held one is missing or stale. On failure
// the previous token is kept and the next call tries again.
func (a *Auth) EnsureToken(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensureTokenLocked(ctx)
}

func (a *Auth) ensureTokenLocked(ctx context.Context) (Token, error) {
	if !a.stale(a.token.Value, a.token.Expiry) {
		return a.token, nil
	}

	tok, err := a.exchanger.Authenticate(ctx, a.creds)
	if err != nil {
		a.logger.Warn("identity exchange failed", "error", err)
		return Token{}, err
	}
	a.token = tok
	a.logger.Info("identity token refreshed",
		"account", tok.Subject,
		"expires_in", a.Remaining(tok.Expiry).Round(time.Second),
	)
	return tok, nil
}

// EnsureLease returns a lease with at least the renew window left. It
// ensures the token first; token failures are returned unchanged.
func (a *Auth) EnsureLease(ctx context.Context) (Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.ensureTokenLocked(ctx)
	if err != nil {
		return Lease{}, err
	}
	if !a.stale(a.lease.URL, a.lease.Expiry) {
		return a.lease, nil
	}

	lease, err := a.exchanger.IssueLease(ctx, tok)
	if err != nil {
		a.logger.Warn("lease request failed", "error", err)
		return Lease{}, err
	}
	a.lease = lease
	a.logger.Info("broker lease issued", "expires_in", a.Remaining(lease.Expiry).Round(time.Second))
	return lease, nil
}

func (a *Auth) stale(value string, expiry time.Time) bool {
	return value == "" || a.Remaining(expiry) < a.window
}
