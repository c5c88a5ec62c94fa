package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/littlehero/api/internal/config"
)

const (
	discoveryTimeout = 30 * time.Second
	clockLeeway      = 30 * time.Second
)

// signingMethods are the asymmetric algorithms accepted from the provider.
var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}

// TokenVerifier validates tokens issued by an external identity provider.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
	Close() error
}

// JWKSVerifier checks provider tokens against the provider's published
// keys. The subject claim is the owner id.
type JWKSVerifier struct {
	keys   keyfunc.Keyfunc
	parser *jwt.Parser
	stop   context.CancelFunc
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed
// until Close. Cancelling ctx only bounds discovery.
func NewJWKSVerifier(ctx context.Context, cfg config.OIDCConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}

	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	doc, err := discover(dctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(cfg.Issuer, "/") {
		return nil, fmt.Errorf("discovery document names issuer %q, expected %q", doc.Issuer, cfg.Issuer)
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	keys, err := keyfunc.NewDefaultCtx(refreshCtx, []string{doc.JWKSURI})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to load provider keys: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(doc.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(signingMethods),
		jwt.WithLeeway(clockLeeway),
	}
	if cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(cfg.ClientID))
	}

	return &JWKSVerifier{keys: keys, parser: jwt.NewParser(opts...), stop: stop}, nil
}

func discover(ctx context.Context, issuer string) (discoveryDocument, error) {
	var doc discoveryDocument
	url := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return doc, fmt.Errorf("oidc discovery: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return doc, fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return doc, fmt.Errorf("oidc discovery: %s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return doc, fmt.Errorf("oidc discovery: decode: %w", err)
	}
	if doc.JWKSURI == "" {
		return doc, errors.New("oidc discovery: no jwks_uri")
	}
	return doc, nil
}

func (v *JWKSVerifier) Verify(token string) (Identity, error) {
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keys.Keyfunc); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{OwnerID: claims.Subject}, nil
}

// Close stops the key refresh.
func (v *JWKSVerifier) Close() error {
	v.stop()
	return nil
}
