package httpmw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ContextKey string

const AdminSubjectContextKey = ContextKey("adminSubject")

// AdminScope is the scope claim required on /admin tokens.
const AdminScope = "admin"

type adminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// AdminAuth accepts "Authorization: Bearer <HS256 JWT>" carrying scope=admin.
func AdminAuth(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.WarnContext(r.Context(), "Admin request without bearer token", "path", r.URL.Path)
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims := &adminClaims{}
			_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				logger.WarnContext(r.Context(), "Admin token rejected", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if claims.Scope != AdminScope {
				http.Error(w, "Insufficient scope", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), AdminSubjectContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueAdminToken signs a short-lived admin token, used by channelctl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is empty")
	}
	now := time.Now()
	claims := adminClaims{
		Scope: AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return signed, nil
}
