package commands

import (
	"errors"
	"net/http"
	"time"

	"github.com/wolfeidau/peerhub/internal/auth"
)

type Globals struct {
	Dev     bool
	Version string
}

// TokenFlags configures session token signing.
type TokenFlags struct {
	Secret string        `help:"HMAC secret used to sign session tokens (at least 32 bytes)" env:"PEERHUB_TOKEN_SECRET" required:""`
	TTL    time.Duration `help:"lifetime of issued session tokens" default:"168h" env:"PEERHUB_TOKEN_TTL"`
}

func (f *TokenFlags) Validate() error {
	if len(f.Secret) < auth.MinSecretLength {
		return errors.New("token secret must be at least 32 bytes (256 bits) for HMAC-SHA256 (--token-secret or PEERHUB_TOKEN_SECRET)")
	}
	if f.TTL <= 0 {
		return errors.New("token TTL must be greater than 0")
	}
	return nil
}

func (f *TokenFlags) signer() (*auth.Signer, error) {
	return auth.NewSigner([]byte(f.Secret), f.TTL)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
