package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LegacyIssuer is the issuer of HMAC tokens minted by this service.
const LegacyIssuer = "littlehero-api"

// legacyClaims are the claims of HS256 tokens. Older tokens carry the owner
// only in userId, newer ones in sub as well.
type legacyClaims struct {
	OwnerID string `json:"userId"`
	jwt.RegisteredClaims
}

func (c legacyClaims) owner() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return c.Subject
}

// VerifyLegacyToken checks an HS256 token signed with secret.
func VerifyLegacyToken(token, secret string) (Identity, error) {
	var claims legacyClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.owner() == "" {
		return Identity{}, fmt.Errorf("%w: token names no owner", ErrUnauthenticated)
	}
	return Identity{OwnerID: claims.owner()}, nil
}

// GenerateLegacyToken signs an HS256 token for ownerID. A zero ttl yields a
// token without expiry.
func GenerateLegacyToken(ownerID, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}

	now := time.Now()
	claims := legacyClaims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   LegacyIssuer,
			Subject:  ownerID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
