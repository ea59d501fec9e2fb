package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier mints and verifies HS256 bearer tokens. ChatHub and the HTTP
// middleware both go through Verify, so a token works the same whether it
// arrives in an Authorization header or a websocket query param.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Mint signs a token carrying the user identity.
func (v *Verifier) Mint(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(v.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify returns the user ID carried by a valid token.
func (v *Verifier) Verify(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthenticated
	}
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
