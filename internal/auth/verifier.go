// Package auth authenticates API callers by API key or bearer JWT.
package auth

import (
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredentials = errors.New("api key or bearer token required")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
)

// Modes:
//
//	dev     any non-empty key or token is accepted
//	apikey  keys must be listed; bearer tokens are rejected
//	hmac    listed keys, or HS256 bearer tokens signed with HMACSecret
//	jwks    listed keys, or RS256 bearer tokens checked against JWKSURL
const (
	ModeDev    = "dev"
	ModeAPIKey = "apikey"
	ModeHMAC   = "hmac"
	ModeJWKS   = "jwks"
)

// Verifier validates API keys and JWTs and extracts the caller.
type Verifier struct {
	Mode       string
	APIKeys    []string
	HMACSecret []byte
	JWKSURL    string
	RoleClaim  string

	http      *http.Client
	mu        sync.RWMutex
	jwks      jwks
	lastFetch time.Time
	cacheTTL  time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string // "api-key" or "jwt"
}

func NewVerifier(mode string, apiKeys []string, hmacSecret, jwksURL string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{
		Mode:       mode,
		APIKeys:    apiKeys,
		HMACSecret: []byte(hmacSecret),
		JWKSURL:    jwksURL,
		RoleClaim:  "role",
		http:       &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
	}
}

// VerifyAPIKey checks key against the configured list.
func (v *Verifier) VerifyAPIKey(key string) (Principal, error) {
	if key == "" {
		return Principal{}, ErrMissingCredentials
	}
	if v.Mode == ModeDev {
		return Principal{Subject: "dev", Role: "admin", Method: "api-key"}, nil
	}
	for _, k := range v.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return Principal{Subject: keyID(k), Role: "admin", Method: "api-key"}, nil
		}
	}
	return Principal{}, ErrInvalidAPIKey
}

// keyID names a key in logs without revealing it.
func keyID(k string) string {
	if len(k) <= 4 {
		return "key"
	}
	return "key..." + k[len(k)-4:]
}

// Verify validates a bearer token.
func (v *Verifier) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingCredentials
	}
	var keyfunc jwt.Keyfunc
	var methods []string
	switch v.Mode {
	case ModeDev:
		return Principal{Subject: token, Role: "admin", Method: "jwt"}, nil
	case ModeHMAC:
		methods = []string{jwt.SigningMethodHS256.Alg()}
		keyfunc = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case ModeJWKS:
		methods = []string{jwt.SigningMethodRS256.Alg()}
		keyfunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.getRSAPublicKey(kid)
		}
	default:
		return Principal{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyfunc, jwt.WithValidMethods(methods))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return Principal{}, ErrInvalidToken
	}
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		role = "user"
	}
	return Principal{Subject: sub, Role: strings.ToLower(role), Method: "jwt"}, nil
}

// Authenticate checks the request's x-api-key header, apiKey query parameter
// or bearer token, in that order.
func (v *Verifier) Authenticate(r *http.Request) (Principal, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return v.VerifyAPIKey(key)
	}
	if key := r.URL.Query().Get("apiKey"); key != "" {
		return v.VerifyAPIKey(key)
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		if v.Mode == ModeAPIKey {
			return Principal{}, ErrInvalidToken
		}
		return v.Verify(strings.TrimSpace(authz[len("Bearer "):]))
	}
	return Principal{}, ErrMissingCredentials
}

// getRSAPublicKey looks kid up in the JWKS cache, refetching when stale.
func (v *Verifier) getRSAPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	cached := v.jwks
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if len(cached.Keys) == 0 || stale {
		if err := v.fetchJWKS(); err != nil {
			return nil, err
		}
		v.mu.RLock()
		cached = v.jwks
		v.mu.RUnlock()
	}
	for _, k := range cached.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(new(big.Int).SetBytes(eBytes).Int64())}, nil
		}
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, _ := http.NewRequest(http.MethodGet, v.JWKSURL, nil)
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	v.mu.Lock()
	v.jwks = j
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
