package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/peerhub/internal/auth"
	"github.com/wolfeidau/peerhub/internal/logger"
)

// TokenCmd mints a session token offline. Useful for operators and smoke tests.
type TokenCmd struct {
	UserID string     `arg:"" help:"user ID (UUID) to issue the token for"`
	Token  TokenFlags `embed:"" prefix:"token-"`
}

func (c *TokenCmd) Validate() error {
	return c.Token.Validate()
}

func (c *TokenCmd) Run(globals *Globals) error {
	log.Logger = logger.Setup(globals.Dev)

	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}

	signer, err := c.Token.signer()
	if err != nil {
		return err
	}

	token, claims, err := signer.Issue(userID)
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("token_fingerprint", auth.Fingerprint(token)).
		Time("expires_at", claims.ExpiresAt).
		Msg("Issued token")

	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}
