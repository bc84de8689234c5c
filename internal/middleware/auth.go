package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"gamepulse/internal/model"
	"gamepulse/pkg/apierror"
)

const (
	RefreshCookieName = "refreshToken"
	QueryTokenParam   = "access_token"
)

type TokenVerifier interface {
	VerifyAccess(token string) (*model.AuthClaims, error)
}

type UserLookup interface {
	FindByID(ctx context.Context, id string) (model.User, error)
}

// SessionVerifier checks a refresh cookie against the user's live session.
type SessionVerifier interface {
	VerifySessionCookie(ctx context.Context, token string) (*model.AuthClaims, error)
}

type ConsentChecker interface {
	HasApproved(ctx context.Context, userID string) (bool, error)
}

const refreshCookieSource = "refresh_cookie"

// CredentialSource pulls one kind of credential off a request and verifies
// it with the secret that kind was issued under.
type CredentialSource struct {
	Name    string
	Extract func(r *http.Request) string
	Verify  func(ctx context.Context, token string) (*model.AuthClaims, error)
}

func verifyAccess(v TokenVerifier) func(context.Context, string) (*model.AuthClaims, error) {
	return func(_ context.Context, token string) (*model.AuthClaims, error) {
		return v.VerifyAccess(token)
	}
}

func BearerHeader(v TokenVerifier) CredentialSource {
	return CredentialSource{
		Name: "bearer",
		Extract: func(r *http.Request) string {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
				return ""
			}
			return strings.TrimSpace(header[7:])
		},
		Verify: verifyAccess(v),
	}
}

// QueryToken reads ?access_token=. Only streaming routes use it, since
// EventSource cannot set headers.
func QueryToken(v TokenVerifier) CredentialSource {
	return CredentialSource{
		Name: "query",
		Extract: func(r *http.Request) string {
			return strings.TrimSpace(r.URL.Query().Get(QueryTokenParam))
		},
		Verify: verifyAccess(v),
	}
}

// RefreshCookie accepts the session cookie as a credential. Only the refresh
// token of the user's current session passes; it is wired on the event
// stream alone.
func RefreshCookie(v SessionVerifier) CredentialSource {
	return CredentialSource{
		Name: refreshCookieSource,
		Extract: func(r *http.Request) string {
			c, err := r.Cookie(RefreshCookieName)
			if err != nil {
				return ""
			}
			return strings.TrimSpace(c.Value)
		},
		Verify: v.VerifySessionCookie,
	}
}

type authUserContextKey struct{}

// AccessGuard resolves the caller from the first credential source that
// verifies. The verified subject must still exist in storage.
type AccessGuard struct {
	users   UserLookup
	sources []CredentialSource
}

func NewAccessGuard(users UserLookup, sources ...CredentialSource) *AccessGuard {
	return &AccessGuard{users: users, sources: sources}
}

// Authenticate returns the caller or an *apierror.APIError describing the
// failure of the first credential that was presented.
func (g *AccessGuard) Authenticate(r *http.Request) (model.AuthUser, error) {
	var firstErr error
	for _, src := range g.sources {
		token := src.Extract(r)
		if token == "" {
			continue
		}

		claims, err := src.Verify(r.Context(), token)
		if err != nil {
			apiErr := tokenError(src.Name, err)
			if apiErr.HTTPStatus == http.StatusInternalServerError {
				return model.AuthUser{}, apiErr
			}
			if firstErr == nil {
				firstErr = apiErr
			}
			continue
		}

		user, err := g.resolve(r.Context(), claims)
		if err != nil {
			return model.AuthUser{}, err
		}
		return user, nil
	}

	if firstErr != nil {
		return model.AuthUser{}, firstErr
	}
	return model.AuthUser{}, apierror.Unauthenticated("authentication required")
}

func (g *AccessGuard) resolve(ctx context.Context, claims *model.AuthClaims) (model.AuthUser, error) {
	if claims.Subject == "" {
		return model.AuthUser{}, apierror.InvalidToken()
	}

	user, err := g.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, apierror.Unauthenticated("account no longer exists")
	}
	if err != nil {
		slog.Error("user lookup failed in access guard", "error", err)
		return model.AuthUser{}, apierror.Internal()
	}
	return model.AuthUser{ID: user.ID, Username: user.Username}, nil
}

// tokenError maps a verification failure. Only access tokens report expiry
// as ACCESS_TOKEN_EXPIRED; an expired session cookie cannot be rotated.
func tokenError(source string, err error) *apierror.APIError {
	switch {
	case errors.Is(err, model.ErrTokenExpired) && source != refreshCookieSource:
		return apierror.New(apierror.CodeAccessTokenExpired, "access token expired", "", http.StatusUnauthorized)
	case errors.Is(err, model.ErrTokenExpired),
		errors.Is(err, model.ErrTokenInvalid),
		errors.Is(err, model.ErrInvalidRefresh):
		return apierror.InvalidToken()
	case errors.Is(err, model.ErrUserNotFound):
		return apierror.Unauthenticated("account no longer exists")
	default:
		slog.Error("credential verification failed", "source", source, "error", err)
		return apierror.Internal()
	}
}

func (g *AccessGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Authenticate(r)
		if err != nil {
			var apiErr *apierror.APIError
			if !errors.As(err, &apiErr) {
				apiErr = apierror.Internal()
			}
			writeJSONError(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireConsent rejects authenticated callers whose latest consent record
// is not an approval.
func RequireConsent(checker ConsentChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthenticated, "authentication required")
				return
			}

			approved, err := checker.HasApproved(r.Context(), user.ID)
			if err != nil {
				slog.Error("consent lookup failed", "user_id", user.ID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
				return
			}
			if !approved {
				writeJSONError(w, http.StatusForbidden, apierror.CodeConsentRequired, "consent required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func WithUser(ctx context.Context, user model.AuthUser) context.Context {
	return context.WithValue(ctx, authUserContextKey{}, user)
}

func UserFromContext(ctx context.Context) (model.AuthUser, bool) {
	user, ok := ctx.Value(authUserContextKey{}).(model.AuthUser)
	return user, ok
}
