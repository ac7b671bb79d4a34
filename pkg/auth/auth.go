// Package auth verifies the bearer tokens presented by upload clients and
// resolves them to the user that owns the resulting sessions.
//
// Three authenticators exist: an OIDC verifier with provider discovery for
// interactive clients, a static-secret JWT verifier for back-end
// integrations, and a mocked acceptor for tests and local development.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized reports a missing, malformed or unverifiable token.
// Handlers map it to 401.
var ErrUnauthorized = errors.New("unauthorized")

// Principal identifies an authenticated caller.
type Principal struct {
	// UserID is the stable identifier recorded as session owner and in
	// persisted metadata documents.
	UserID string

	// Subject is the token subject as presented, kept for audit logs.
	Subject string
}

// Authenticator verifies a raw bearer token.
type Authenticator interface {
	// Authenticate returns the principal for token, or an error wrapping
	// ErrUnauthorized when the token is not acceptable.
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// TokenFromRequest extracts the bearer token from the Authorization
// header.
func TokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("Authorization header is not a bearer token")
	}
	return token, nil
}
