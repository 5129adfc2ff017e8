// Package permission verifies a route's required scopes against a
// community's active grants, and validates the signed scope envelope the
// admin plane issues when a module is granted access.
package permission

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WildcardScope satisfies any required scope.
const WildcardScope = "*"

// EnvelopeClaims is the payload of a signed scope envelope: who it was
// issued for, which scopes it grants, and the usual registered claims.
type EnvelopeClaims struct {
	jwt.RegisteredClaims
	CommunityID string   `json:"community_id"`
	ModuleID    string   `json:"module_id"`
	Scopes      []string `json:"scopes"`
}

// EnvelopeVerifier validates signed scope envelopes issued by the admin
// plane using a single symmetric signing key. Issue signs with HS256; Verify
// accepts HS256, HS384 and HS512.
type EnvelopeVerifier struct {
	secret []byte
}

// NewEnvelopeVerifier builds a verifier from the configured signing key.
func NewEnvelopeVerifier(secret string) *EnvelopeVerifier {
	return &EnvelopeVerifier{secret: []byte(secret)}
}

// Verify parses and validates a scope envelope, checking signature and
// expiry. Revocation is checked separately by the caller via Revoker since
// it may require a network round trip.
func (v *EnvelopeVerifier) Verify(envelope string) (*EnvelopeClaims, error) {
	claims := &EnvelopeClaims{}
	token, err := jwt.ParseWithClaims(envelope, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("invalid scope envelope: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("scope envelope failed validation")
	}
	return claims, nil
}

// Issue signs a new scope envelope. Used by tests and by the admin surface
// that grants module access.
func (v *EnvelopeVerifier) Issue(communityID, moduleID string, scopes []string, ttl time.Duration, jti string) (string, error) {
	now := time.Now()
	claims := EnvelopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		CommunityID: communityID,
		ModuleID:    moduleID,
		Scopes:      scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// HasScope reports whether granted satisfies required, honoring the
// wildcard scope.
func HasScope(required string, granted []string) bool {
	for _, g := range granted {
		if g == WildcardScope || g == required {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether every entry in required is present in
// granted (or covered by a wildcard).
func HasAllScopes(required []string, granted []string) bool {
	for _, r := range required {
		if !HasScope(r, granted) {
			return false
		}
	}
	return true
}

// NormalizeScopes trims and lowercases scope strings for stable comparison.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
