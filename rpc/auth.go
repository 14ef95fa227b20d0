package rpc

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const authClockSkew = 2 * time.Minute

// authenticator checks HS256 bearer tokens. An empty secret disables every
// guarded method.
type authenticator struct {
	secret []byte
	issuer string
}

func newAuthenticator(secret, issuer string) *authenticator {
	return &authenticator{secret: []byte(strings.TrimSpace(secret)), issuer: strings.TrimSpace(issuer)}
}

// verify checks header and returns the token subject.
func (a *authenticator) verify(header string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("RPC authentication not configured")
	}
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("Authorization header must use Bearer scheme")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(authClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errors.New("invalid RPC credentials")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", errors.New("invalid RPC credentials")
	}
	return subject, nil
}
