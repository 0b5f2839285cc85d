package session

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"foodbridge/internal/access"
	"foodbridge/internal/models"
)

type Authenticator struct {
	verifier *Verifier
	resolver *Resolver
}

func NewAuthenticator(verifier *Verifier, resolver *Resolver) *Authenticator {
	return &Authenticator{verifier: verifier, resolver: resolver}
}

// Authenticate turns an access token into gate state. Missing or invalid
// tokens yield the anonymous state; only role lookup failures are errors.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (access.State, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		if token != "" {
			log.Printf("auth rejected token: %v", err)
		}
		return access.State{}, nil
	}
	identity := &models.Identity{ID: claims.Subject, Email: claims.Email}
	role, err := a.resolver.Resolve(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, ErrRolePending) {
			return access.State{Identity: identity, RolePending: true}, nil
		}
		return access.State{}, err
	}
	identity.Role = role
	return access.State{Identity: identity}, nil
}

func (a *Authenticator) StateFromRequest(r *http.Request) (access.State, error) {
	return a.Authenticate(r.Context(), TokenFromRequest(r))
}

// Forget drops the cached role so the next request sees a fresh lookup.
func (a *Authenticator) Forget(identityID string) {
	a.resolver.Invalidate(identityID)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the access_token query parameter for socket handshakes.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

type stateContextKey struct{}

func WithState(ctx context.Context, state access.State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, state)
}

func FromContext(ctx context.Context) (access.State, bool) {
	state, ok := ctx.Value(stateContextKey{}).(access.State)
	return state, ok
}
