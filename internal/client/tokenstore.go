package client

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenStore.Token when neither location holds a token.
var ErrNoToken = errors.New("no authentication token found")

var _ oauth2.TokenSource = (*TokenStore)(nil)

// TokenStore keeps the session token in memory and mirrors every change to
// the durable backup. Reads fall back to the backup and heal the memory copy.
type TokenStore struct {
	mu     sync.Mutex
	token  string
	backup Backup

	// cleared stops reads healing from a backup that could not be cleared.
	cleared bool
}

// NewTokenStore creates a token store mirrored to backup.
func NewTokenStore(backup Backup) *TokenStore {
	return &TokenStore{backup: backup}
}

// Get returns the best known token, or "" when there is none.
func (s *TokenStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token
	}
	if s.cleared {
		return ""
	}

	val, err := s.backup.Read(BackupTokenKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Warn().Err(err).Msg("Failed to read backup token")
			return ""
		}
		log.Warn().Msg("No authentication token found")
		return ""
	}

	if len(val) == 0 {
		log.Warn().Msg("No authentication token found")
		return ""
	}

	s.token = string(val)
	log.Debug().Msg("Restored token from backup")

	return s.token
}

// Set replaces the token in the backup and in memory. An empty token clears
// both. When the backup write fails memory still holds the new value and the
// error is returned.
func (s *TokenStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		return s.clearLocked()
	}

	err := s.backup.Write(BackupTokenKey, []byte(token))
	s.token = token
	s.cleared = false

	if err != nil {
		return fmt.Errorf("failed to write backup token: %w", err)
	}

	return nil
}

// clearLocked erases the backup entry before dropping the memory copy. When
// the entry cannot be erased it is blanked instead; if that fails too, reads
// in this process stop consulting the backup.
func (s *TokenStore) clearLocked() error {
	err := s.backup.Erase(BackupTokenKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to erase backup token, blanking it")
		if blankErr := s.backup.Write(BackupTokenKey, []byte{}); blankErr == nil {
			err = nil
		} else {
			err = errors.Join(err, blankErr)
		}
	}

	s.token = ""
	s.cleared = err != nil

	if err != nil {
		return fmt.Errorf("failed to clear backup token: %w", err)
	}

	return nil
}

// Token implements oauth2.TokenSource.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	token := s.Get()
	if token == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// AuthHeaders returns an Authorization header when a token resolves, otherwise an empty set.
func (s *TokenStore) AuthHeaders() http.Header {
	header := http.Header{}

	token, err := s.Token()
	if err != nil {
		return header
	}

	header.Set("Authorization", token.Type()+" "+token.AccessToken)
	return header
}
