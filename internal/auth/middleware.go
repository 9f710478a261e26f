package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agents-liminals/liminal/internal/api"
)

type contextKey string

// UserClaimsKey holds the *AccessClaims of an authenticated request.
const UserClaimsKey contextKey = "user_claims"

// Middleware rejects requests without a valid bearer access token and
// puts the token's claims on the request context.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="liminal"`)
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := svc.ValidateAccessToken(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="liminal", error="invalid_token"`)
				if errors.Is(err, jwt.ErrTokenExpired) {
					api.HandleError(w, api.ErrTokenExpired)
					return
				}
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims returns ctx carrying the authenticated user's claims.
func WithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

func GetUserClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*AccessClaims)
	return claims
}

// UserKey identifies an authenticated request by its user, for limits
// that follow the account rather than the address.
func UserKey(r *http.Request) string {
	if claims := GetUserClaims(r.Context()); claims != nil {
		return "user:" + claims.UserID
	}
	return ""
}
