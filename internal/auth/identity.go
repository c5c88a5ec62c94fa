// Package auth resolves bearer tokens to the owner that books are scoped to.
package auth

import (
	"errors"
	"fmt"
)

// HeaderOwnerID carries the owner id from /auth/verify to the gateway, and
// from the gateway back to the API in gateway mode.
const HeaderOwnerID = "X-User-Id"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotConfigured   = errors.New("authentication not configured")
)

// Identity is the authenticated caller. Every book lookup is scoped to
// OwnerID.
type Identity struct {
	OwnerID string
}

// Authenticator tries the OIDC verifier first and falls back to legacy
// HMAC tokens when a secret is set. Either may be absent.
type Authenticator struct {
	verifier TokenVerifier
	secret   string
}

func NewAuthenticator(verifier TokenVerifier, secret string) *Authenticator {
	return &Authenticator{verifier: verifier, secret: secret}
}

// Configured reports whether any token can be accepted.
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.secret != ""
}

func (a *Authenticator) Identify(token string) (Identity, error) {
	if !a.Configured() {
		return Identity{}, ErrNotConfigured
	}

	var oidcErr error
	if a.verifier != nil {
		id, err := a.verifier.Verify(token)
		if err == nil {
			return id, nil
		}
		if a.secret == "" {
			return Identity{}, err
		}
		oidcErr = err
	}

	id, err := VerifyLegacyToken(token, a.secret)
	if err != nil {
		if oidcErr != nil {
			return Identity{}, fmt.Errorf("%w (oidc: %v)", err, oidcErr)
		}
		return Identity{}, err
	}
	return id, nil
}
