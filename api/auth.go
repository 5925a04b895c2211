package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// AuthConfig selects how bearer tokens are validated.
type AuthConfig struct {
	Audience string
	Issuer   string
	// SharedSecret switches validation from RS256 via JWKS to HS256. Used for
	// local development and tests.
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// Auth validates incoming JWT tokens and resolves the owner from the sub claim.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. jwks may be nil when cfg carries a
// shared secret.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) *Auth {
	a := &Auth{
		JWKS:        jwks,
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer,
		secret:      cfg.SharedSecret,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.keyCacheTTL < 0 {
		a.keyCacheTTL = 0
	}
	if a.hs256() {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

func (a *Auth) hs256() bool { return len(a.secret) > 0 }

// OwnerFromAuthHeader extracts the owner from the Authorization header.
func (a *Auth) OwnerFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.OwnerFromBearer(token)
}

// OwnerFromBearer extracts the owner from a bearer token presented as raw bytes.
func (a *Auth) OwnerFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	parsedToken, err := a.parser.Parse(tokenStr, a.keyFunc)
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFunc(t *jwt.Token) (any, error) {
	if a.hs256() {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}
	return a.keyForToken(t)
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
