package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/wolfeidau/peerhub/internal/auth"
	httputil "github.com/wolfeidau/peerhub/internal/http"
	"github.com/wolfeidau/peerhub/internal/models"
	"github.com/wolfeidau/peerhub/internal/store"
	"github.com/wolfeidau/peerhub/internal/telemetry"
)

const (
	msgMissingFields      = "Please provide all required fields"
	msgInvalidCredentials = "Invalid email or password"
	msgUserExists         = "User already exists"
	msgInvalidBody        = "Invalid request body"
	msgServerError        = "Server error"
	msgLoggedOut          = "Logged out successfully"
	msgAuthorized         = "You are authorized"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// ProfileResponse is the flattened user plus an optional replacement token.
type ProfileResponse struct {
	*models.User
	Token string `json:"token,omitempty"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics := telemetry.GetMetrics()

	var req loginRequest
	if err := httputil.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		httputil.WriteMessage(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	user, err := s.cfg.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			metrics.LoginFailuresTotal.Add(ctx, 1)
			httputil.WriteMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to load user for login")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return
	}

	ok, err := s.cfg.Passwords.Verify(req.Password, user.PasswordHash)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to verify password")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return
	}
	if !ok {
		metrics.LoginFailuresTotal.Add(ctx, 1)
		httputil.WriteMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	if !s.issueSession(w, r, user) {
		return
	}

	metrics.LoginsTotal.Add(ctx, 1)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := httputil.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	fullName := strings.TrimSpace(req.FullName)
	email := strings.TrimSpace(req.Email)
	if fullName == "" || email == "" || req.Password == "" {
		httputil.WriteMessage(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	hash, err := s.cfg.Passwords.Hash(req.Password)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to hash password")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to generate user ID")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           id,
		FullName:     fullName,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.cfg.Users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserAlreadyExists) {
			httputil.WriteMessage(w, http.StatusConflict, msgUserExists)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to create user")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return
	}

	hlog.FromRequest(r).Info().
		Str("user_id", user.ID.String()).
		Str("client_ip", httputil.ClientIPFromContext(ctx)).
		Msg("User registered")

	if !s.issueSession(w, r, user) {
		return
	}

	telemetry.GetMetrics().RegistrationsTotal.Add(ctx, 1)
}

// issueSession signs a token for user, sets the cookie and writes the auth response.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, user *models.User) bool {
	token, claims, err := s.cfg.Signer.Issue(user.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to issue token")
		httputil.WriteMessage(w, http.StatusInternalServerError, msgServerError)
		return false
	}

	telemetry.GetMetrics().TokensIssuedTotal.Add(r.Context(), 1)

	hlog.FromRequest(r).Info().
		Str("user_id", user.ID.String()).
		Str("token_fingerprint", auth.Fingerprint(token)).
		Time("expires_at", claims.ExpiresAt).
		Msg("Session token issued")

	s.setTokenCookie(w, token, claims.ExpiresAt)
	httputil.WriteJSON(w, http.StatusOK, AuthResponse{User: user.Public(), Token: token})

	return true
}

// logout always succeeds. The token stays valid until it expires; clients drop it.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if principal := auth.PrincipalFromContext(r.Context()); principal != nil {
		hlog.FromRequest(r).Info().Str("user_id", principal.UserID.String()).Msg("User logged out")
	}

	s.clearTokenCookie(w)
	httputil.WriteMessage(w, http.StatusOK, msgLoggedOut)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	resp := ProfileResponse{User: principal.User}

	if s.cfg.RotateWithin > 0 && time.Until(principal.ExpiresAt) < s.cfg.RotateWithin {
		token, claims, err := s.cfg.Signer.Issue(principal.UserID)
		if err != nil {
			// the presented token is still valid, serve the profile without rotating
			hlog.FromRequest(r).Warn().Err(err).Msg("Failed to rotate token")
		} else {
			metrics := telemetry.GetMetrics()
			metrics.TokensIssuedTotal.Add(ctx, 1)
			metrics.TokensRotatedTotal.Add(ctx, 1)

			hlog.FromRequest(r).Info().
				Str("user_id", principal.UserID.String()).
				Str("token_fingerprint", auth.Fingerprint(token)).
				Msg("Session token rotated")

			s.setTokenCookie(w, token, claims.ExpiresAt)
			resp.Token = token
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) protected(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	httputil.WriteJSON(w, http.StatusOK, struct {
		Message string       `json:"message"`
		User    *models.User `json:"user"`
	}{
		Message: msgAuthorized,
		User:    principal.User,
	})
}
