package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Authenticator attaches credentials to outbound requests and refreshes them
// when the carrier says they are stale.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
	Refresh(ctx context.Context) error
}

// APIKeyAuth sets a static key header.
type APIKeyAuth struct {
	Header string
	Key    string
}

func (a APIKeyAuth) Apply(_ context.Context, req *http.Request) error {
	if a.Key == "" {
		return nil
	}
	h := a.Header
	if h == "" {
		h = "X-API-Key"
	}
	req.Header.Set(h, a.Key)
	return nil
}

func (APIKeyAuth) Refresh(context.Context) error { return nil }

// BasicAuth sets HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

func (BasicAuth) Refresh(context.Context) error { return nil }

// BearerAuth sets a long-lived bearer token.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

func (BearerAuth) Refresh(context.Context) error { return nil }

// HookFunc mutates an outbound request with caller supplied credentials.
type HookFunc func(ctx context.Context, req *http.Request) error

// HookAuth delegates to a user hook. A nil hook applies Headers only.
type HookAuth struct {
	Hook    HookFunc
	Headers map[string]string
}

func (a HookAuth) Apply(ctx context.Context, req *http.Request) error {
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	if a.Hook == nil {
		return nil
	}
	return a.Hook(ctx, req)
}

func (HookAuth) Refresh(context.Context) error { return nil }

// Chain applies several authenticators in order.
type Chain []Authenticator

func (c Chain) Apply(ctx context.Context, req *http.Request) error {
	for _, a := range c {
		if err := a.Apply(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) Refresh(ctx context.Context) error {
	for _, a := range c {
		if err := a.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// TokenSource fetches a fresh token from the carrier's token endpoint.
type TokenSource func(ctx context.Context) (Token, error)

// DefaultRefreshMargin is how close to expiry a token is treated as expired.
const DefaultRefreshMargin = 60 * time.Second

// OAuth2Auth caches a bearer token and refreshes it before expiry. Concurrent
// callers that find the token stale share a single refresh.
type OAuth2Auth struct {
	source TokenSource
	margin time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group     singleflight.Group
	refreshes atomic.Int64
}

func NewOAuth2Auth(source TokenSource) *OAuth2Auth {
	return &OAuth2Auth{source: source, margin: DefaultRefreshMargin, now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (a *OAuth2Auth) WithClock(now func() time.Time) *OAuth2Auth {
	a.now = now
	return a
}

// Token returns a token valid for at least the refresh margin.
func (a *OAuth2Auth) Token(ctx context.Context) (string, error) {
	a.mu.RLock()
	tok, exp := a.token, a.expiry
	a.mu.RUnlock()
	if tok != "" && a.now().Add(a.margin).Before(exp) {
		return tok, nil
	}
	if err := a.Refresh(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token, nil
}

func (a *OAuth2Auth) Apply(ctx context.Context, req *http.Request) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// Refresh fetches a new token. Callers arriving while a refresh is in flight
// wait for it instead of starting another.
func (a *OAuth2Auth) Refresh(ctx context.Context) error {
	_, err, _ := a.group.Do("token", func() (any, error) {
		a.refreshes.Add(1)
		t, err := a.source(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: token refresh: %v", ErrAuthentication, err)
		}
		if t.AccessToken == "" {
			return nil, fmt.Errorf("%w: token endpoint returned no access token", ErrAuthentication)
		}
		exp := t.ExpiresIn
		if exp <= 0 {
			exp = time.Hour
		}
		a.mu.Lock()
		a.token = t.AccessToken
		a.expiry = a.now().Add(exp)
		a.mu.Unlock()
		return nil, nil
	})
	return err
}

// Expiry reports when the cached token expires.
func (a *OAuth2Auth) Expiry() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.expiry
}

// Refreshes counts token fetches.
func (a *OAuth2Auth) Refreshes() int64 { return a.refreshes.Load() }
