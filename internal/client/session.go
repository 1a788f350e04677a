package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/peerhub/internal/auth"
	"github.com/wolfeidau/peerhub/internal/models"
)

// State is the observable client session.
type State struct {
	IsAuthenticated bool
	Token           string
	User            *models.User
	Error           string
}

// persistedState is the part of State that survives restarts.
type persistedState struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Token           string `json:"token"`
}

// RegisterInput is the payload for creating an account.
type RegisterInput struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
	Message string       `json:"message"`
}

type profileResponse struct {
	models.User
	Token string `json:"token"`
}

// Session owns the login state of one client. Session calls go straight to
// the transport and never through the retrying Client.
type Session struct {
	mu sync.Mutex

	baseURL    *url.URL
	endpoint   func(path string) (string, error)
	httpClient *http.Client
	tokens     *TokenStore
	backup     Backup

	isAuthenticated bool
	user            *models.User
	lastErr         string
}

func newSession(baseURL *url.URL, endpoint func(string) (string, error), httpClient *http.Client, tokens *TokenStore, backup Backup) *Session {
	s := &Session{
		baseURL:    baseURL,
		endpoint:   endpoint,
		httpClient: httpClient,
		tokens:     tokens,
		backup:     backup,
	}
	s.restore()
	return s
}

// restore loads the persisted flag and seeds the token store if it is empty.
func (s *Session) restore() {
	raw, err := s.backup.Read(SessionKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Warn().Err(err).Msg("Failed to read persisted session")
		}
		return
	}

	var ps persistedState
	if err := json.Unmarshal(raw, &ps); err != nil {
		log.Warn().Err(err).Msg("Ignoring corrupt persisted session")
		return
	}

	if ps.Token != "" && s.tokens.Get() == "" {
		if err := s.tokens.Set(ps.Token); err != nil {
			log.Warn().Err(err).Msg("Failed to restore persisted token")
		}
	}

	// an authenticated flag without a token to back it is stale
	s.isAuthenticated = ps.IsAuthenticated && s.tokens.Get() != ""
	if ps.IsAuthenticated && !s.isAuthenticated {
		log.Warn().Msg("Persisted session has no token, starting signed out")
	}
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		IsAuthenticated: s.isAuthenticated,
		Token:           s.tokens.Get(),
		User:            s.user,
		Error:           s.lastErr,
	}
}

// Login exchanges credentials for a token and marks the session authenticated.
func (s *Session) Login(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account and signs in as it.
func (s *Session) Register(ctx context.Context, in RegisterInput) error {
	return s.authenticate(ctx, "/auth/register", in)
}

func (s *Session) authenticate(ctx context.Context, path string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// start from a clean slate so a failed attempt never leaves a stale token behind
	if err := s.resetTokensLocked(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear previous token")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return s.failLocked(fmt.Errorf("failed to encode request: %w", err))
	}

	resp, err := s.send(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return s.failLocked(err)
	}
	defer resp.Body.Close()

	var ar authResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&ar)

	if resp.StatusCode != http.StatusOK {
		return s.failLocked(&APIError{StatusCode: resp.StatusCode, Message: ar.Message})
	}
	if decodeErr != nil {
		return s.failLocked(fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if ar.Token == "" {
		return s.failLocked(errors.New("no authentication token received"))
	}

	if err := s.tokens.Set(ar.Token); err != nil {
		log.Warn().Err(err).Msg("Token stored in memory only")
	}

	s.user = ar.User
	s.isAuthenticated = true
	s.lastErr = ""
	s.persistLocked()

	log.Debug().
		Str("path", path).
		Str("token_fingerprint", auth.Fingerprint(ar.Token)).
		Msg("Authenticated")

	return nil
}

func (s *Session) failLocked(err error) error {
	s.isAuthenticated = false
	s.user = nil
	s.lastErr = err.Error()
	s.persistLocked()
	return err
}

// Logout tells the server to clear its cookie and always clears local state,
// even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.send(ctx, http.MethodPost, "/auth/logout", s.tokens.Get(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("Server logout failed, continuing with local logout")
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	s.teardownLocked()
	return nil
}

// CheckAuth asks the server whether the current token is still good. A
// rejection or unreadable answer tears the session down and returns false.
// When the server cannot be reached the session is left alone and a
// *TransportError is returned.
func (s *Session) CheckAuth(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.tokens.Get()

	resp, err := s.send(ctx, http.MethodGet, "/users/profile", token, nil)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			log.Warn().Err(err).Msg("Auth check could not reach the server")
			return false, err
		}
		log.Warn().Err(err).Msg("Auth check failed")
		s.teardownLocked()
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("Auth check failed")
		s.teardownLocked()
		return false, nil
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		log.Warn().Err(err).Msg("Auth check returned an unreadable profile")
		s.teardownLocked()
		return false, nil
	}

	user := profile.User
	s.user = &user

	if profile.Token != "" {
		log.Debug().Str("token_fingerprint", auth.Fingerprint(profile.Token)).Msg("Received rotated token")
		if err := s.tokens.Set(profile.Token); err != nil {
			log.Warn().Err(err).Msg("Rotated token stored in memory only")
		}
	}

	s.isAuthenticated = true
	s.lastErr = ""
	s.persistLocked()

	return true, nil
}

// Clear drops all local session state without contacting the server.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if err := s.resetTokensLocked(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear stored token")
	}

	s.isAuthenticated = false
	s.user = nil
	s.lastErr = ""

	if err := s.backup.Erase(SessionKey); err != nil {
		log.Warn().Err(err).Msg("Failed to erase persisted session")
	}

	s.expireCookieLocked()
}

// expireCookieLocked drops the server-issued token cookie from the jar so a
// torn down session cannot keep authenticating through it.
func (s *Session) expireCookieLocked() {
	if s.httpClient.Jar == nil || s.baseURL == nil {
		return
	}

	s.httpClient.Jar.SetCookies(s.baseURL, []*http.Cookie{
		{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1},
	})
}

func (s *Session) resetTokensLocked() error {
	err := s.tokens.Set("")
	if legacyErr := s.backup.Erase(LegacyTokenKey); legacyErr != nil {
		err = errors.Join(err, legacyErr)
	}
	return err
}

func (s *Session) persistLocked() {
	raw, err := json.Marshal(persistedState{
		IsAuthenticated: s.isAuthenticated,
		Token:           s.tokens.Get(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode session")
		return
	}

	if err := s.backup.Write(SessionKey, raw); err != nil {
		log.Warn().Err(err).Msg("Failed to persist session")
	}
}

// send issues one request with cookies and an optional bearer token.
func (s *Session) send(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	target, err := s.endpoint(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	return resp, nil
}
