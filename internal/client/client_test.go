package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesServerURL(t *testing.T) {
	for _, serverURL := range []string{"", "localhost:8080", "/just/a/path"} {
		_, err := New(Config{ServerURL: serverURL})
		require.Error(t, err, serverURL)
	}
}

func TestEndpoint(t *testing.T) {
	c, err := New(Config{ServerURL: "https://peer.example.com/api/"})
	require.NoError(t, err)

	u, err := c.endpoint("/users/profile?expand=1")
	require.NoError(t, err)
	require.Equal(t, "https://peer.example.com/api/users/profile?expand=1", u)

	_, err = c.endpoint("https://elsewhere.example.com/steal")
	require.Error(t, err)
}

func TestDoSendsTokenAndSucceeds(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	c := newTestClient(t, srv, NewMemoryBackup())
	require.NoError(t, c.Tokens().Set("t1"))

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"Bearer t1"}, api.targetAuth)
	require.Zero(t, api.count("/api/users/profile"))
}

func TestDoReplaysWithRotatedToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	api.stale["t1"] = true
	api.rotateTo = "t2"

	var expired atomic.Int32
	c := newTestClient(t, srv, NewMemoryBackup(), func(cfg *Config) {
		cfg.OnSessionExpired = func() { expired.Add(1) }
	})
	require.NoError(t, c.Tokens().Set("t1"))

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/target", Body: map[string]string{"a": "b"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, api.count("/api/target"))
	require.Equal(t, 1, api.count("/api/users/profile"))
	require.Equal(t, []string{"Bearer t1", "Bearer t2"}, api.targetAuth)
	require.Equal(t, api.targetBodies[0], api.targetBodies[1])
	require.Equal(t, "t2", c.Tokens().Get())
	require.Zero(t, expired.Load())
}

func TestDoRetriesAtMostOnce(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	api.targetAlways401 = true
	backup := NewMemoryBackup()

	var expired atomic.Int32
	c := newTestClient(t, srv, backup, func(cfg *Config) {
		cfg.OnSessionExpired = func() { expired.Add(1) }
	})
	require.NoError(t, c.Tokens().Set("t1"))

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.True(t, IsUnauthorized(resp))
	require.Equal(t, 2, api.count("/api/target"))
	require.Equal(t, 1, api.count("/api/users/profile"))

	// the replay was rejected too, so the session is over
	require.EqualValues(t, 1, expired.Load())
	state := c.Session().State()
	require.False(t, state.IsAuthenticated)
	require.Empty(t, state.Token)
	for _, key := range []string{BackupTokenKey, SessionKey} {
		_, ok := backupValue(t, backup, key)
		require.False(t, ok, key)
	}
}

func TestDoLogsOutWhenRevalidationFails(t *testing.T) {
	api, srv := newFakeAPI(t)
	backup := NewMemoryBackup()

	var expired atomic.Int32
	c := newTestClient(t, srv, backup, func(cfg *Config) {
		cfg.OnSessionExpired = func() { expired.Add(1) }
	})
	require.NoError(t, c.Tokens().Set("revoked"))

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.True(t, IsUnauthorized(resp))
	require.Equal(t, 1, api.count("/api/target"))
	require.Equal(t, 1, api.count("/api/users/profile"))
	require.EqualValues(t, 1, expired.Load())

	state := c.Session().State()
	require.False(t, state.IsAuthenticated)
	require.Empty(t, state.Token)
	_, ok := backupValue(t, backup, BackupTokenKey)
	require.False(t, ok)
}

func TestDoWithoutCredentialsSkipsRevalidation(t *testing.T) {
	api, srv := newFakeAPI(t)

	var expired atomic.Int32
	c := newTestClient(t, srv, NewMemoryBackup(), func(cfg *Config) {
		cfg.OnSessionExpired = func() { expired.Add(1) }
	})

	resp, err := c.Do(context.Background(), &Request{Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.True(t, IsUnauthorized(resp))
	require.Equal(t, 1, api.count("/api/target"))
	require.Zero(t, api.count("/api/users/profile"))
	require.EqualValues(t, 1, expired.Load())
	require.Equal(t, []string{""}, api.targetAuth)
}

func TestDoUsesCookieFromLogin(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv, NewMemoryBackup())
	require.NoError(t, c.Session().Login(context.Background(), "grace@example.com", "cobol-rules"))

	// drop the bearer token; the jar still carries the cookie
	require.NoError(t, c.Tokens().Set(""))
	require.True(t, c.hasTokenCookie())

	resp, err := c.Do(context.Background(), &Request{Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{""}, api.targetAuth)
}

func TestDoTransportError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	c := newTestClient(t, srv, NewMemoryBackup())
	require.NoError(t, c.Tokens().Set("t1"))
	srv.Close()

	resp, err := c.Do(context.Background(), &Request{Path: "/target"})
	require.Nil(t, resp)
	require.ErrorIs(t, err, ErrTransport)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.MethodGet, te.Method)

	require.Equal(t, "t1", c.Tokens().Get())
}

func TestDoContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		wantType string
		wantBody string
	}{
		{
			name:     "json body",
			req:      &Request{Method: http.MethodPost, Path: "/target", Body: map[string]int{"n": 1}},
			wantType: "application/json",
			wantBody: "{\"n\":1}",
		},
		{
			name:     "post without body",
			req:      &Request{Method: http.MethodPost, Path: "/target"},
			wantType: "application/json",
		},
		{
			name: "get without body",
			req:  &Request{Method: http.MethodGet, Path: "/target"},
		},
		{
			name:     "raw bytes",
			req:      &Request{Method: http.MethodPut, Path: "/target", Body: []byte("raw")},
			wantBody: "raw",
		},
		{
			name: "multipart reader keeps caller type",
			req: &Request{
				Method: http.MethodPost,
				Path:   "/target",
				Body:   strings.NewReader("--b\r\n\r\nfile\r\n--b--"),
				Header: http.Header{"Content-Type": []string{"multipart/form-data; boundary=b"}},
			},
			wantType: "multipart/form-data; boundary=b",
			wantBody: "--b\r\n\r\nfile\r\n--b--",
		},
		{
			name: "caller type wins over json default",
			req: &Request{
				Method: http.MethodPatch,
				Path:   "/target",
				Body:   map[string]string{"a": "b"},
				Header: http.Header{"Content-Type": []string{"application/merge-patch+json"}},
			},
			wantType: "application/merge-patch+json",
			wantBody: "{\"a\":\"b\"}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.accept("t1")
			c := newTestClient(t, srv, NewMemoryBackup())
			require.NoError(t, c.Tokens().Set("t1"))

			resp, err := c.Do(context.Background(), tt.req)
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, []string{tt.wantType}, api.targetCTypes)
			require.Equal(t, []string{tt.wantBody}, api.targetBodies)
		})
	}
}

func TestDoReplaysRawReaderBody(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	api.stale["t1"] = true
	api.rotateTo = "t2"
	c := newTestClient(t, srv, NewMemoryBackup())
	require.NoError(t, c.Tokens().Set("t1"))

	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/target",
		Body:   strings.NewReader("payload"),
		Header: http.Header{"Content-Type": []string{"text/plain"}},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"payload", "payload"}, api.targetBodies)
}

func TestDoRevalidationTransportFailureKeepsSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.accept("t1")
	api.targetAlways401 = true

	var expired atomic.Int32
	c := newTestClient(t, srv, NewMemoryBackup(), func(cfg *Config) {
		cfg.OnSessionExpired = func() { expired.Add(1) }
	})
	require.NoError(t, c.Tokens().Set("t1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancel as soon as the first response arrives so CheckAuth never reaches the server
	c.httpClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(r)
		if strings.HasSuffix(r.URL.Path, "/target") {
			cancel()
		}
		return resp, err
	})

	resp, err := c.Do(ctx, &Request{Path: "/target"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.True(t, IsUnauthorized(resp))
	require.Zero(t, api.count("/api/users/profile"))
	require.Zero(t, expired.Load())
	require.Equal(t, "t1", c.Tokens().Get())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCachingTransport(t *testing.T) {
	var hits atomic.Int32
	srv := newCacheableServer(t, &hits)

	c, err := New(Config{ServerURL: srv.URL, CacheDir: t.TempDir()})
	require.NoError(t, err)

	for i := range 2 {
		resp, err := c.Do(context.Background(), &Request{Path: "/public"})
		require.NoError(t, err)
		// the cache only stores bodies that were read to the end
		_, err = io.Copy(io.Discard, resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, i == 1, IsCached(resp))
	}

	require.EqualValues(t, 1, hits.Load())
}
