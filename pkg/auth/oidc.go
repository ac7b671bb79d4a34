package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/openmeasure/collector/internal/logger"
)

// OIDCConfig configures the OIDC authenticator.
type OIDCConfig struct {
	// Issuer is the provider URL used for discovery, for example
	// https://auth.example.com/realms/collector.
	Issuer string

	// ClientID is the audience expected in ID tokens. Empty skips the
	// audience check, which some providers require for access tokens.
	ClientID string

	// UserIDClaim names the claim carrying the stable user identifier.
	// Defaults to "sub".
	UserIDClaim string
}

// OIDCAuthenticator verifies bearer tokens against an OIDC provider
// discovered from the issuer URL. Signed tokens are verified locally
// against the provider's JWKS; opaque access tokens fall back to the
// UserInfo endpoint.
type OIDCAuthenticator struct {
	config OIDCConfig

	mu       sync.Mutex
	provider *oidc.Provider // cached on first use
}

// NewOIDCAuthenticator creates an OIDC authenticator. Provider discovery
// happens lazily on the first Authenticate call so the collector can
// start before the identity provider is reachable.
func NewOIDCAuthenticator(config OIDCConfig) (*OIDCAuthenticator, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("oidc issuer is required")
	}
	if config.UserIDClaim == "" {
		config.UserIDClaim = "sub"
	}
	return &OIDCAuthenticator{config: config}, nil
}

func (a *OIDCAuthenticator) getProvider(ctx context.Context) (*oidc.Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.provider != nil {
		return a.provider, nil
	}

	provider, err := oidc.NewProvider(ctx, a.config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", a.config.Issuer, err)
	}
	a.provider = provider
	return provider, nil
}

// Authenticate verifies the token and extracts the user identifier.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	provider, err := a.getProvider(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := a.verifyLocally(ctx, provider, token)
	if err != nil {
		logger.Debug("local token verification failed, falling back to userinfo",
			logger.KeyError, err.Error())
		claims, err = a.fetchUserInfo(ctx, provider, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}

	userID, _ := claims[a.config.UserIDClaim].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no %q claim", ErrUnauthorized, a.config.UserIDClaim)
	}
	subject, _ := claims["sub"].(string)

	return &Principal{UserID: userID, Subject: subject}, nil
}

// verifyLocally checks the token signature against the provider JWKS.
func (a *OIDCAuthenticator) verifyLocally(ctx context.Context, provider *oidc.Provider, token string) (map[string]any, error) {
	oidcConfig := &oidc.Config{ClientID: a.config.ClientID}
	if a.config.ClientID == "" {
		oidcConfig.SkipClientIDCheck = true
	}

	idToken, err := provider.Verifier(oidcConfig).Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token claims: %w", err)
	}
	return claims, nil
}

// fetchUserInfo resolves an opaque access token via the UserInfo
// endpoint.
func (a *OIDCAuthenticator) fetchUserInfo(ctx context.Context, provider *oidc.Provider, token string) (map[string]any, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	info, err := provider.UserInfo(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal userinfo claims: %w", err)
	}
	if _, ok := claims["sub"]; !ok {
		claims["sub"] = info.Subject
	}
	return claims, nil
}
