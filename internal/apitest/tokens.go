package apitest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errInvalidToken = errors.New("invalid or expired token")

const (
	tokenIssuer   = "storefront-api"
	tokenAudience = "storefront"
	bearerPrefix  = "Bearer "
)

// accessSigner signs HS256 access tokens.
type accessSigner struct {
	key []byte
	ttl time.Duration
}

func newAccessSigner(ttl time.Duration) *accessSigner {
	return &accessSigner{key: []byte(uuid.NewString()), ttl: ttl}
}

func (s *accessSigner) issue(userID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	return tok, expiresAt, err
}

// subject validates signature, issuer, audience and exp and returns sub.
// Revocation is tracked separately in the grant table.
func (s *accessSigner) subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	if err != nil {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// hashToken returns a hex SHA-256 of a refresh or email token; raw values are never stored.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func hashEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashToken(provided)), []byte(storedHash)) == 1
}

// extractBearer returns the Bearer token from an Authorization header, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
