package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/peerhub/internal/auth"
	"github.com/wolfeidau/peerhub/internal/logger"
	"github.com/wolfeidau/peerhub/internal/server"
	"github.com/wolfeidau/peerhub/internal/store"
	memorystore "github.com/wolfeidau/peerhub/internal/store/memory"
	postgresstore "github.com/wolfeidau/peerhub/internal/store/postgres"
	"github.com/wolfeidau/peerhub/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PEERHUB_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"PEERHUB_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"PEERHUB_TLS_KEY"`

	// Session tokens and cookies
	Token        TokenFlags    `embed:"" prefix:"token-"`
	RotateWithin time.Duration `help:"issue a fresh token on profile fetch when the presented one expires within this window (0 disables)" default:"24h" env:"PEERHUB_ROTATE_WITHIN"`
	CookieSecure bool          `help:"mark the token cookie Secure with SameSite=None for cross-site frontends" default:"false" env:"PEERHUB_COOKIE_SECURE"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for credentialed requests" default:"http://localhost:5173" env:"PEERHUB_CORS_ORIGINS"`
	TrustProxy  bool     `help:"trust X-Forwarded-For and X-Real-IP for client addresses" default:"false" env:"PEERHUB_TRUST_PROXY"`

	// Observability
	Tracing     bool    `help:"enable OpenTelemetry export" default:"false" env:"PEERHUB_TRACING"`
	SampleRatio float64 `help:"fraction of root spans to sample" default:"1.0" env:"PEERHUB_TRACE_SAMPLE_RATIO"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"PEERHUB_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
	StartupTimeout  int32 `help:"seconds to keep retrying the database at startup" default:"30"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"PEERHUB_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return nil
	}
	if s.MinConns > s.MaxConns {
		return fmt.Errorf("postgres min connections (%d) exceeds max connections (%d)", s.MinConns, s.MaxConns)
	}
	return nil
}

func (c *ServerCmd) Validate() error {
	if err := c.Token.Validate(); err != nil {
		return err
	}
	if c.StoreType == "postgres" && c.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if c.RotateWithin < 0 {
		return errors.New("rotate window must not be negative")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log.Logger = logger.Setup(globals.Dev)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("dev", globals.Dev).Msg("Starting server")

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.SampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "peerhub-server",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	users, closeStore, err := c.createUserStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := c.Token.signer()
	if err != nil {
		return fmt.Errorf("failed to create token signer: %w", err)
	}

	srv, err := server.New(server.Config{
		Signer:       signer,
		Users:        users,
		Passwords:    auth.NewArgon2(),
		CookieSecure: c.CookieSecure,
		RotateWithin: c.RotateWithin,
		CORSOrigins:  c.CORSOrigins,
		TrustProxy:   c.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	handler, err := srv.Handler(log.Logger)
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	httpServer := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", c.Listen).
			Bool("tls", c.Cert != "").
			Str("store", c.StoreType).
			Dur("token_ttl", c.Token.TTL).
			Msg("Listening")

		if c.Cert != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

func (c *ServerCmd) createUserStore(ctx context.Context) (store.UserStore, func(), error) {
	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			StartupTimeout:  c.PostgresStore.StartupTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		log.Info().Msg("Using PostgreSQL user store")
		return postgresstore.NewUserStore(pool), pool.Close, nil

	default:
		log.Warn().Msg("Using in-memory user store, accounts are lost on restart")
		return memorystore.NewUserStore(), func() {}, nil
	}
}
