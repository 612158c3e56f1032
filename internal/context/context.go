package context

import (
	"context"
	"net/http"
)

// AuthUser is the caller identity extracted from the bearer token issued by
// the platform's identity service. The engine keeps no user records of its
// own; owner references on wallets and devices are these opaque ids.
type AuthUser struct {
	ID    string
	Email string
}

type contextKey string

const (
	authenticatedUserContextKey = contextKey("authenticatedUser")
)

func ContextSetAuthenticatedUser(r *http.Request, user *AuthUser) *http.Request {
	ctx := context.WithValue(r.Context(), authenticatedUserContextKey, user)
	return r.WithContext(ctx)
}

func ContextGetAuthenticatedUser(r *http.Request) *AuthUser {
	user, ok := r.Context().Value(authenticatedUserContextKey).(*AuthUser)
	if !ok {
		return nil
	}

	return user
}
