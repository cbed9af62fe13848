package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/golang-jwt/jwt/v5"
)

type principalKey struct{}

// Claims are the token claims issued by the identity provider. Subject is the principal id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errUnknownRole  = errors.New("unknown role")
)

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok
}

// Auth verifies an HS256 bearer token and stores the principal in the request context.
func Auth(secret []byte, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := parsePrincipal(r.Header.Get("Authorization"), secret)
			if err != nil {
				log.Warn("Unauthorized request",
					logger.StringField("path", r.URL.Path),
					logger.ErrorField("error", err))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func parsePrincipal(header string, secret []byte) (models.Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return models.Principal{}, errMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, errors.Join(errInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return models.Principal{}, errInvalidToken
	}

	role := models.Role(claims.Role)
	switch role {
	case models.RoleBidder, models.RoleAdmin, models.RoleFinance, models.RoleSystem:
	default:
		return models.Principal{}, errUnknownRole
	}
	return models.Principal{ID: claims.Subject, Role: role}, nil
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
