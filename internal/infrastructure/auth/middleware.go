package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/models"
	"github.com/honeynil/AuthServiceTochka/pkg/response"
)

const touchTimeout = 5 * time.Second

// Rejection reasons reported to the Recorder.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonNoClaims     = "no_claims"
	ReasonRole         = "role"
)

type claimsContextKey struct{}

// AccessVerifier is the part of TokenService the pipeline needs.
type AccessVerifier interface {
	VerifyAccessToken(token string) (*models.AccessClaims, error)
}

// LastSeenToucher records that a user was just active.
type LastSeenToucher interface {
	TouchLastSeen(ctx context.Context, userID string) error
}

type Recorder interface {
	AuthRejected(reason string)
	TouchFailed()
}

type nopRecorder struct{}

func (nopRecorder) AuthRejected(string) {}
func (nopRecorder) TouchFailed()        {}

func WithClaims(ctx context.Context, claims *models.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*models.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*models.AccessClaims)
	return claims, ok && claims != nil
}

// BearerToken returns the second whitespace-delimited segment of an
// Authorization header value, or "" when there is none.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Authenticate rejects requests without a valid access token and stores the
// verified claims in the request context. The last-seen update runs in the
// background and its failure never affects the response.
func Authenticate(tokens AccessVerifier, toucher LastSeenToucher, rec Recorder) func(http.Handler) http.Handler {
	if rec == nil {
		rec = nopRecorder{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := BearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				rec.AuthRejected(ReasonMissingToken)
				response.Error(w, http.StatusUnauthorized, "access token required")
				return
			}

			claims, err := tokens.VerifyAccessToken(tokenStr)
			if err != nil {
				rec.AuthRejected(ReasonInvalidToken)
				slog.Warn("access token rejected", "path", r.URL.Path, "error", err)
				response.Error(w, http.StatusForbidden, "invalid or expired token")
				return
			}

			if toucher != nil {
				go touchLastSeen(r.Context(), toucher, rec, claims.UserID)
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func touchLastSeen(ctx context.Context, toucher LastSeenToucher, rec Recorder, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
	defer cancel()

	if err := toucher.TouchLastSeen(ctx, userID); err != nil {
		rec.TouchFailed()
		slog.Error("failed to update last seen", "user_id", userID, "error", err)
	}
}

// RequireRoles must run after Authenticate. Roles are compared verbatim.
func RequireRoles(rec Recorder, roles ...string) func(http.Handler) http.Handler {
	if rec == nil {
		rec = nopRecorder{}
	}
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				rec.AuthRejected(ReasonNoClaims)
				response.Error(w, http.StatusUnauthorized, "user not authenticated")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				rec.AuthRejected(ReasonRole)
				response.Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
