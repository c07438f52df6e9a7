// Package middleware provides HTTP middleware for the marketplace API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage"
)

// AuthMiddleware authenticates requests with a marketplace JWT or a
// personal access token.
type AuthMiddleware struct {
	issuer    *auth.TokenIssuer
	users     storage.UserStore
	logger    *logging.Logger
	skipPaths map[string]bool
	// skipPrefixes bypass authentication entirely; optionalPrefixes get
	// best-effort authentication on reads.
	skipPrefixes     []string
	optionalPrefixes []string
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(issuer *auth.TokenIssuer, users storage.UserStore, logger *logging.Logger, skipPaths, skipPrefixes, optionalPrefixes []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		issuer:           issuer,
		users:            users,
		logger:           logger,
		skipPaths:        skip,
		skipPrefixes:     skipPrefixes,
		optionalPrefixes: optionalPrefixes,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || matchesPrefix(r.URL.Path, m.skipPrefixes) {
			next.ServeHTTP(w, r)
			return
		}
		optional := matchesPrefix(r.URL.Path, m.optionalPrefixes) &&
			(r.Method == http.MethodGet || r.Method == http.MethodHead)

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if optional {
				next.ServeHTTP(w, r)
				return
			}
			m.respondError(w, errors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, errors.Unauthorized("Invalid Authorization header format"))
			return
		}
		credential := parts[1]

		var (
			u   user.User
			err error
		)
		if auth.IsPAT(credential) {
			u, err = m.authenticatePAT(r.Context(), credential)
		} else {
			u, err = m.authenticateJWT(r.Context(), credential)
		}
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Authentication failed")
			m.respondError(w, err)
			return
		}
		if u.Blocked {
			m.logger.LogSecurityEvent(r.Context(), "blocked_user_request", map[string]interface{}{
				"user_id": u.ID,
			})
			m.respondError(w, errors.Forbidden("Account is blocked"))
			return
		}

		ctx := logging.WithUserID(r.Context(), u.ID)
		ctx = logging.WithRole(ctx, u.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticateJWT(ctx context.Context, credential string) (user.User, error) {
	claims, err := m.issuer.Verify(credential, auth.TokenTypeAccess)
	if err != nil {
		return user.User{}, err
	}
	u, err := m.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return user.User{}, errors.Unauthorized("Unknown user")
	}
	return u, nil
}

func (m *AuthMiddleware) authenticatePAT(ctx context.Context, credential string) (user.User, error) {
	tokenID, secret, err := auth.ParsePAT(credential)
	if err != nil {
		return user.User{}, errors.InvalidToken(err)
	}
	tok, err := m.users.GetAccessToken(ctx, tokenID)
	if err != nil {
		return user.User{}, errors.Unauthorized("Invalid access token")
	}
	if !auth.CheckPATSecret(tok.TokenHash, secret) {
		return user.User{}, errors.Unauthorized("Invalid access token")
	}
	u, err := m.users.GetUser(ctx, tok.UserID)
	if err != nil {
		return user.User{}, errors.Unauthorized("Unknown user")
	}
	_ = m.users.TouchAccessToken(ctx, tokenID, time.Now().UTC())
	return u, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": serviceErr})
}

func matchesPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
