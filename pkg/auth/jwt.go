package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by the JWT authenticator. All wrap ErrUnauthorized so
// the API layer needs a single check.
var (
	ErrInvalidToken        = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrExpiredToken        = fmt.Errorf("%w: token has expired", ErrUnauthorized)
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// JWTConfig configures the static-secret JWT authenticator.
type JWTConfig struct {
	// Secret is the HMAC signing key shared with the token issuer. Must
	// be at least 32 characters.
	Secret string

	// Issuer, when set, is required to match the token's iss claim.
	Issuer string
}

// claims are the claims the collector reads from access tokens. The uid
// claim carries the user identifier; when absent the subject is used.
type claims struct {
	jwt.RegisteredClaims

	UserID   string `json:"uid,omitempty"`
	Username string `json:"username,omitempty"`
}

// JWTAuthenticator verifies HMAC-signed tokens against a shared secret.
// Intended for back-end integrations where an identity provider is not
// involved.
type JWTAuthenticator struct {
	config JWTConfig
}

// NewJWTAuthenticator creates a JWT authenticator with the given
// configuration.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	return &JWTAuthenticator{config: config}, nil
}

// Authenticate verifies the token signature, expiry and issuer.
func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenString string) (*Principal, error) {
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if a.config.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.Secret), nil
	}, parseOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{UserID: userID, Subject: c.Subject}, nil
}
