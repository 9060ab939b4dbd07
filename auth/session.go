package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrSessionExpired is returned for a well-formed but expired token.
	ErrSessionExpired = errors.New("cloudgpt: session expired")

	// ErrInvalidSession is returned for any other invalid token.
	ErrInvalidSession = errors.New("cloudgpt: invalid session")
)

// SessionClaims are the claims of a session token. Subject is the user id.
type SessionClaims struct {
	jwt.RegisteredClaims
	Plan string `json:"plan,omitempty"`
}

// SessionVerifier signs and verifies HMAC session tokens issued by the
// identity provider.
type SessionVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewSessionVerifier creates a verifier for secret.
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret), now: time.Now}
}

// Issue creates a session token for userID valid for ttl.
func (v *SessionVerifier) Issue(userID, plan string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Plan: plan,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("cloudgpt: sign session: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks its signature, expiry and subject.
func (v *SessionVerifier) Verify(token string) (*SessionClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))

	claims := &SessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
