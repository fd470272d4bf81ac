// Package remote is the HTTP client for the end-to-end encrypted sync
// service. Every secret string leaves the process as an enc-string sealed
// with the session's vault key.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/lockx"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

const (
	maxResponseBody = 32 << 20
	// refresh the access token this long before it expires
	refreshSkew = time.Minute

	clientName    = "desktop"
	clientVersion = "2025.9.1"
	deviceType    = "8"
)

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	MaxRetries uint64
	Backoff    time.Duration
	DeviceID   string
	DeviceName string
	Now        func() time.Time
}

// Tokens are the bearer credentials of a session.
type Tokens struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
}

// Session is an authenticated remote account. Key is the decrypted vault
// key used for enc-strings.
type Session struct {
	VaultID string
	Email   string
	Key     *cryptox.SymmetricKey

	mu     sync.Mutex
	tokens Tokens
}

func NewSession(vaultID, email string, tokens Tokens, key *cryptox.SymmetricKey) *Session {
	return &Session{VaultID: vaultID, Email: email, Key: key, tokens: tokens}
}

// Tokens returns the current tokens; they change after a refresh.
func (s *Session) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func (s *Session) setTokens(t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
}

// Close wipes the vault key.
func (s *Session) Close() {
	if s.Key != nil {
		s.Key.Wipe()
	}
}

type Client struct {
	apiURL      string
	identityURL string
	http        *http.Client
	opts        Options
	log         logging.Logger

	// serializes calls per vault
	vaults lockx.KeyedMutex
}

// New builds a client for a server whose api and identity services live
// under endpoint/api and endpoint/identity.
func New(endpoint string, log logging.Logger, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: bad endpoint %q", common.ErrInvalidArgument, endpoint)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "linux"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base := u.String()
	return &Client{
		apiURL:      base + "/api",
		identityURL: base + "/identity",
		http:        opts.HTTPClient,
		opts:        opts,
		log:         log,
	}, nil
}

type request struct {
	method      string
	url         string
	body        []byte
	contentType string
	header      http.Header
}

func jsonRequest(method, url string, v any) (request, error) {
	r := request{method: method, url: url}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return r, fmt.Errorf("encode request: %w", err)
		}
		r.body = b
		r.contentType = "application/json"
	}
	return r, nil
}

// send performs req with bounded exponential retry on transient failures.
// Auth and conflict errors are returned at once.
func (c *Client) send(ctx context.Context, req request, out any) error {
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.Backoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.roundTrip(ctx, req, out)
		if common.Transient(err) {
			c.log.Warn(ctx, "remote request failed, retrying", "method", req.method, "url", redact(req.url), "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if req.contentType != "" {
		hr.Header.Set("Content-Type", req.contentType)
	}
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("Bitwarden-Client-Name", clientName)
	hr.Header.Set("Bitwarden-Client-Version", clientVersion)
	hr.Header.Set("Device-Type", deviceType)

	resp, err := c.http.Do(hr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", common.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &common.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.method, err)
	}
	return nil
}

// authed sends req with the session bearer token, refreshing it first when
// it is about to expire. Calls for the same vault are serialized.
func (c *Client) authed(ctx context.Context, s *Session, req request, out any) error {
	unlock, err := c.vaults.Lock(ctx, s.VaultID)
	if err != nil {
		return err
	}
	defer unlock()

	tokens := s.Tokens()
	if c.expiring(tokens) {
		if tokens, err = c.refresh(ctx, s); err != nil {
			return err
		}
	}
	if tokens.Access == "" {
		return fmt.Errorf("%w: no access token", common.ErrAuth)
	}
	if req.header == nil {
		req.header = http.Header{}
	}
	req.header.Set("Authorization", "Bearer "+tokens.Access)
	return c.send(ctx, req, out)
}

// expiring reads exp from the access token without verifying it; the
// server is the one who verifies. Non-JWT tokens use the stored expiry.
func (c *Client) expiring(t Tokens) bool {
	if t.Refresh == "" {
		return false
	}
	exp := t.ExpiresAt
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Access, claims); err == nil && claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if exp.IsZero() {
		return false
	}
	return c.opts.Now().Add(refreshSkew).After(exp)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// redact drops the query string, which may carry identifiers.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func statusOf(err error) int {
	var he *common.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
