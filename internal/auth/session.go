// internal/auth/session.go
package auth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/models"
)

// Verifier checks bearer tokens issued by the account service. Tokens are HS256 signed
// with a shared secret and carry the claims {"userId": <number>, "email": <string>, "exp"}.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Sign creates a token in the issuer's format. Real users get their tokens from the
// account service; this exists for local tooling and tests. A non-positive ttl yields an
// already expired token.
func (v *Verifier) Sign(id models.Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"userId": id.UserID,
		"email":  id.Email,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token and returns the identity it carries. Every failure is an
// authentication error.
func (v *Verifier) Verify(tokenString string) (models.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Identity{}, apperr.Authentication("authentication token missing")
	}

	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.CodeAuthentication, err, "invalid authentication token")
	}
	if !t.Valid {
		return models.Identity{}, apperr.Authentication("invalid authentication token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, apperr.Authentication("invalid token claims")
	}

	userID, err := userIDClaim(claims)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.CodeAuthentication, err, "invalid token claims")
	}
	email, _ := claims["email"].(string)

	return models.Identity{UserID: userID, Email: email}, nil
}

// userIDClaim extracts the numeric userId claim. JSON numbers decode as float64.
func userIDClaim(claims jwt.MapClaims) (int64, error) {
	raw, ok := claims["userId"]
	if !ok {
		return 0, errors.New("missing userId in jwt")
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("userId claim has type %T, want number", raw)
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("userId claim %v is not a positive integer", f)
	}
	return int64(f), nil
}
