package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MockedAuthenticator accepts any syntactically well-formed token without
// verifying signatures. For local development and integration tests only.
//
// JWT-shaped tokens are decoded (unverified) and the subject becomes the
// user identifier; any other non-empty token is used as the user
// identifier directly.
type MockedAuthenticator struct{}

// NewMockedAuthenticator creates the mocked acceptor.
func NewMockedAuthenticator() *MockedAuthenticator {
	return &MockedAuthenticator{}
}

// Authenticate accepts token without signature verification.
func (a *MockedAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Not a JWT. Treat the raw token as the user identifier.
		return &Principal{UserID: token, Subject: token}, nil
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &Principal{UserID: subject, Subject: subject}, nil
}
