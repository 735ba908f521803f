package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vigil/internal/core"
)

// Context key for the authenticated user
type contextKey string

const userContextKey = contextKey("user")

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	service *Service
	logger  *core.Logger
}

// NewMiddleware creates new authentication middleware
func NewMiddleware(service *Service, logger *core.Logger) *Middleware {
	return &Middleware{
		service: service,
		logger:  logger,
	}
}

// Authenticate resolves the request's bearer token to a user. Requests
// without an Authorization header proceed as the anonymous user.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Authorization")

		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" {
			r = contextSetUser(r, AnonymousUser)
			next.ServeHTTP(w, r)
			return
		}

		headerParts := strings.Split(authorizationHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			m.invalidTokenResponse(w)
			return
		}

		user, err := m.service.ValidateToken(r.Context(), headerParts[1])
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken):
				m.invalidTokenResponse(w)
			default:
				m.logger.Error("Token validation failed", "error", err)
				core.WriteErrorResponse(w, http.StatusInternalServerError,
					core.NewInternalError("Failed to validate token", err))
			}
			return
		}

		r = contextSetUser(r, user)
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated rejects requests from the anonymous user
func (m *Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r)
		if user.IsAnonymous() {
			core.WriteErrorResponse(w, http.StatusUnauthorized,
				core.NewUnauthorizedError("You must be authenticated to access this resource", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) invalidTokenResponse(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	core.WriteErrorResponse(w, http.StatusUnauthorized,
		core.NewUnauthorizedError("Invalid or expired authentication token", nil))
}

// contextSetUser returns a copy of the request with the user added to its
// context
func contextSetUser(r *http.Request, user *User) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	return r.WithContext(ctx)
}

// GetUserFromContext retrieves the user from the request context, falling
// back to the anonymous user
func GetUserFromContext(r *http.Request) *User {
	user, ok := r.Context().Value(userContextKey).(*User)
	if !ok {
		return AnonymousUser
	}
	return user
}
