package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	httputil "github.com/wolfeidau/peerhub/internal/http"
	"github.com/wolfeidau/peerhub/internal/models"
	"github.com/wolfeidau/peerhub/internal/store"
	"github.com/wolfeidau/peerhub/internal/telemetry"
)

// CookieName is the cookie carrying the session token for browser clients.
const CookieName = "token"

const tracerName = "github.com/wolfeidau/peerhub/internal/auth"

// Rejection reasons. Each maps to a 401 response body.
var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("token invalid or expired")
	ErrUserNotFound = errors.New("user not found")
)

var rejectionMessages = map[error]string{
	ErrNoToken:      "Not authorized, no token provided",
	ErrInvalidToken: "Token invalid or expired",
	ErrUserNotFound: "User not found",
}

// ServerErrorMessage is returned with a 500 when verification fails for reasons
// other than the presented credential.
const ServerErrorMessage = "Server error in authentication"

// RejectionError is returned by Authenticate when the request must be answered with 401.
type RejectionError struct {
	Reason error
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason.Error()
}

func (e *RejectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Message is the client facing text for the rejection.
func (e *RejectionError) Message() string {
	if msg, ok := rejectionMessages[e.Reason]; ok {
		return msg
	}
	return "Not authorized"
}

// Source records where a request's token was found.
type Source string

const (
	SourceHeader Source = "header"
	SourceCookie Source = "cookie"
)

// Principal is the authenticated user attached to the request context.
type Principal struct {
	UserID    uuid.UUID
	User      *models.User
	Source    Source
	ExpiresAt time.Time
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// Verifier authenticates requests using a bearer header or the session cookie.
type Verifier struct {
	signer *Signer
	users  store.UserStore
}

// NewVerifier creates a verifier that checks tokens with signer and resolves subjects in users.
func NewVerifier(signer *Signer, users store.UserStore) *Verifier {
	return &Verifier{
		signer: signer,
		users:  users,
	}
}

// ExtractToken returns the request token and where it came from. A non-empty
// bearer token wins over the cookie.
func ExtractToken(r *http.Request) (string, Source) {
	if token := extractBearerToken(r); token != "" {
		return token, SourceHeader
	}

	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, SourceCookie
	}

	return "", ""
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate runs the verification steps for r. Credential problems are
// returned as *RejectionError; any other error is an infrastructure failure.
func (v *Verifier) Authenticate(r *http.Request) (*Principal, error) {
	token, source := ExtractToken(r)
	if token == "" {
		return nil, &RejectionError{Reason: ErrNoToken}
	}

	claims, err := v.signer.Verify(token)
	if err != nil {
		return nil, &RejectionError{Reason: ErrInvalidToken, Err: err}
	}

	user, err := v.users.Get(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, &RejectionError{Reason: ErrUserNotFound, Err: err}
		}
		return nil, fmt.Errorf("failed to load user %s: %w", claims.Subject, err)
	}

	if user.IsDeleted() {
		return nil, &RejectionError{Reason: ErrUserNotFound}
	}

	return &Principal{
		UserID:    user.ID,
		User:      user.Public(),
		Source:    source,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Middleware rejects unauthenticated requests and attaches the principal for the rest.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return v.middleware(true)
}

// OptionalMiddleware attaches a principal when the request authenticates and
// otherwise passes the request through untouched.
func (v *Verifier) OptionalMiddleware() func(http.Handler) http.Handler {
	return v.middleware(false)
}

func (v *Verifier) middleware(required bool) func(http.Handler) http.Handler {
	metrics := telemetry.GetMetrics()
	tracer := otel.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ctx, span := tracer.Start(r.Context(), "auth.Authenticate")
			r = r.WithContext(ctx)

			principal, err := v.Authenticate(r)

			metrics.AuthRequestsTotal.Add(ctx, 1)
			metrics.AuthDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

			if err != nil {
				var rejection *RejectionError
				if !errors.As(err, &rejection) {
					span.RecordError(err)
					span.SetStatus(codes.Error, "authentication failed")
				}
				span.End()

				if !required {
					next.ServeHTTP(w, r)
					return
				}

				v.reject(w, r, err)
				return
			}

			span.SetAttributes(
				attribute.String("auth.user_id", principal.UserID.String()),
				attribute.String("auth.source", string(principal.Source)),
			)
			span.End()

			hlog.FromRequest(r).Debug().
				Str("user_id", principal.UserID.String()).
				Str("source", string(principal.Source)).
				Msg("Request authenticated")

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

func (v *Verifier) reject(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	metrics := telemetry.GetMetrics()
	token, source := ExtractToken(r)

	var rejection *RejectionError
	if errors.As(err, &rejection) {
		metrics.AuthRejectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", rejection.Reason.Error()),
		))

		hlog.FromRequest(r).Warn().
			Err(rejection.Err).
			Str("reason", rejection.Reason.Error()).
			Str("source", string(source)).
			Str("token_fingerprint", Fingerprint(token)).
			Msg("Request rejected")

		httputil.WriteMessage(w, http.StatusUnauthorized, rejection.Message())
		return
	}

	metrics.AuthServerErrorTotal.Add(ctx, 1)

	hlog.FromRequest(r).Error().
		Err(err).
		Str("token_fingerprint", Fingerprint(token)).
		Msg("Authentication failed")

	httputil.WriteMessage(w, http.StatusInternalServerError, ServerErrorMessage)
}
