package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/peerhub/internal/auth"
)

// Config holds common client configuration
type Config struct {
	// ServerURL is the API base, including any path prefix such as /api.
	ServerURL string
	Timeout   time.Duration

	// SessionDir holds the durable token backup. Empty keeps it in memory.
	SessionDir string
	// CacheDir enables an HTTP cache for cacheable GET responses.
	CacheDir string

	// Transport overrides the base round tripper.
	Transport http.RoundTripper

	// OnSessionExpired runs after a request fails authentication for good
	// and local state has been cleared.
	OnSessionExpired func()
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		Timeout:   30 * time.Second,
	}
}

// Request describes one call to the API.
//
// Body is sent as is when it is a []byte or io.Reader; any other non-nil
// value is encoded as JSON.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header
}

// Client issues authenticated requests and re-validates the session once on 401.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     *TokenStore
	session    *Session

	onSessionExpired func()
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: scheme and host are required", cfg.ServerURL)
	}

	var backup Backup = NewMemoryBackup()
	if cfg.SessionDir != "" {
		backup, err = NewDiskBackup(cfg.SessionDir)
		if err != nil {
			return nil, err
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.CacheDir != "" {
		transport = NewCachingTransport(cfg.CacheDir, transport)
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Jar:       jar,
		Transport: transport,
	}

	c := &Client{
		baseURL:          baseURL,
		httpClient:       httpClient,
		tokens:           NewTokenStore(backup),
		onSessionExpired: cfg.OnSessionExpired,
	}
	c.session = newSession(baseURL, c.endpoint, httpClient, c.tokens, backup)

	return c, nil
}

// Session returns the session bound to this client.
func (c *Client) Session() *Session {
	return c.session
}

// Tokens returns the token store bound to this client.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

func (c *Client) endpoint(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("path %q must be relative to the server URL", path)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery

	return u.String(), nil
}

// attempt carries the per-request retry state.
type attempt struct {
	method      string
	target      string
	header      http.Header
	body        []byte
	contentType string
	retried     bool
}

// Do sends req with the current token and cookies. A 401 triggers one
// CheckAuth and, when the session is still valid, one replay with the
// refreshed token. A 401 on the replay ends the session. 401 responses are
// returned, not turned into errors.
// Failures to reach the server are returned as *TransportError.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	a, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	for {
		token := c.tokens.Get()

		resp, err := c.send(ctx, a, token)
		if err != nil {
			return nil, err
		}

		if !IsUnauthorized(resp) {
			return resp, nil
		}

		if a.retried {
			log.Debug().Str("path", req.Path).Msg("Replay rejected after re-validation, ending session")
			c.expire()
			return resp, nil
		}

		if token == "" && !c.hasTokenCookie() {
			log.Debug().Str("path", req.Path).Msg("Request rejected without credentials")
			c.expire()
			return resp, nil
		}

		a.retried = true

		ok, err := c.session.CheckAuth(ctx)
		if err != nil {
			log.Warn().Err(err).Str("path", req.Path).Msg("Could not re-validate session")
			return resp, nil
		}
		if !ok {
			c.expire()
			return resp, nil
		}

		log.Debug().
			Str("path", req.Path).
			Str("token_fingerprint", auth.Fingerprint(c.tokens.Get())).
			Msg("Session re-validated, replaying request")

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (c *Client) prepare(req *Request) (*attempt, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.endpoint(req.Path)
	if err != nil {
		return nil, err
	}

	a := &attempt{
		method: method,
		target: target,
		header: req.Header.Clone(),
	}
	if a.header == nil {
		a.header = http.Header{}
	}

	raw := false
	switch body := req.Body.(type) {
	case nil:
	case []byte:
		a.body, raw = body, true
	case io.Reader:
		// buffered so the replay after re-validation sends the same bytes
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		a.body, raw = buf, true
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		a.body = buf
	}

	if !raw && a.header.Get("Content-Type") == "" && (a.body != nil || hasBodyMethod(method)) {
		a.contentType = "application/json"
	}

	return a, nil
}

func hasBodyMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func (c *Client) send(ctx context.Context, a *attempt, token string) (*http.Response, error) {
	var body io.Reader
	if a.body != nil {
		body = bytes.NewReader(a.body)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range a.header {
		req.Header[k] = append([]string(nil), v...)
	}
	if a.contentType != "" {
		req.Header.Set("Content-Type", a.contentType)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: a.method, URL: a.target, Err: err}
	}

	return resp, nil
}

func (c *Client) hasTokenCookie() bool {
	for _, cookie := range c.httpClient.Jar.Cookies(c.baseURL) {
		if cookie.Name == auth.CookieName && cookie.Value != "" {
			return true
		}
	}
	return false
}

// expire clears local state and notifies the presentation layer.
func (c *Client) expire() {
	c.session.Clear()
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
