package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/peerhub/internal/auth"
	httputil "github.com/wolfeidau/peerhub/internal/http"
	"github.com/wolfeidau/peerhub/internal/logger"
	"github.com/wolfeidau/peerhub/internal/store"
)

// DefaultRotateWithin is how close to expiry a token must be before the
// profile endpoint hands out a replacement.
const DefaultRotateWithin = 24 * time.Hour

const maxBodyBytes = 1 << 20

// Config holds the dependencies and policy for the API server.
type Config struct {
	Signer    *auth.Signer
	Users     store.UserStore
	Passwords auth.PasswordHasher

	// CookieSecure marks the token cookie Secure and SameSite=None so
	// frontends on another site can send it.
	CookieSecure bool
	RotateWithin time.Duration
	CORSOrigins  []string
	TrustProxy   bool
}

func (c *Config) validate() error {
	if c.Signer == nil {
		return errors.New("token signer is required")
	}
	if c.Users == nil {
		return errors.New("user store is required")
	}
	if c.Passwords == nil {
		c.Passwords = auth.NewArgon2()
	}
	if c.RotateWithin < 0 {
		return fmt.Errorf("rotate window must not be negative: %s", c.RotateWithin)
	}
	return nil
}

// Server serves the account and profile endpoints.
type Server struct {
	cfg      Config
	verifier *auth.Verifier
}

// New creates a server from cfg.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		verifier: auth.NewVerifier(cfg.Signer, cfg.Users),
	}, nil
}

// Routes returns the bare route table without the outer middleware stack.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /auth/register", s.register)
	mux.Handle("POST /auth/logout", s.verifier.OptionalMiddleware()(http.HandlerFunc(s.logout)))

	requireAuth := s.verifier.Middleware()
	mux.Handle("GET /users/profile", requireAuth(http.HandlerFunc(s.profile)))
	mux.Handle("GET /protected", requireAuth(http.HandlerFunc(s.protected)))

	return mux
}

// Handler returns the routes wrapped with request logging, CORS, cross-origin
// protection and compression.
func (s *Server) Handler(log zerolog.Logger) (http.Handler, error) {
	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	var h http.Handler = s.Routes()
	h = noStore(h)
	h = gzhttp.GzipHandler(h)
	h = protection.Handler(h)
	h = withCORS(s.cfg.CORSOrigins, h)
	h = httputil.ClientIPMiddleware(s.cfg.TrustProxy)(h)
	h = logger.HTTPRequests(log)(h)

	return h, nil
}

// withCORS allows credentialed requests from the configured frontends.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return middleware.Handler(h)
}

// noStore keeps account and profile responses out of shared and client caches.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
