package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
)

// Claims is the decoded payload of an access token. Only the claims the
// client acts on are extracted; everything else stays in Raw.
type Claims struct {
	UserID    int64
	TokenID   string // jti
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       map[string]any
}

// Decode extracts claims from a bearer token without verifying its signature
// and without network access. Verification is the server's job; the client
// only needs issue/expiry metadata. Malformed input yields ErrTokenMalformed,
// which callers treat as "token invalid", never as fatal.
func Decode(rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.Wrap(autherrors.ErrTokenMalformed, "[token.Decode] empty token")
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(autherrors.ErrTokenMalformed, err.Error())
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrap(autherrors.ErrTokenMalformed, "[token.Decode] claims extraction")
	}

	claims := &Claims{Raw: mapClaims}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.TokenID = jti
	}
	switch userID := mapClaims["user_id"].(type) {
	case float64:
		claims.UserID = int64(userID)
	case string:
		// Some issuers stringify numeric ids; tolerate but don't parse here.
	}

	return claims, nil
}

// Expired reports whether the token is expired at now, treating anything
// within skew of expiry as already expired. Tokens without an exp claim never
// expire locally.
func (c *Claims) Expired(now time.Time, skew time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return c == nil
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}
