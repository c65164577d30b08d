package gameserver

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified subject of a connection token.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
}

// tokenClaims is the expected JWT shape: registered claims plus the profile
// fields the auth frontend stamps in.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Authenticator verifies HS256 bearer tokens issued by the auth frontend.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns a verifier over the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses and validates a token and returns the identity it carries.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token carries no subject")
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &Identity{
		UserID:      claims.Subject,
		DisplayName: name,
		Email:       claims.Email,
	}, nil
}
