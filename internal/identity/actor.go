// Package identity consumes actor identities from the external auth
// collaborator. The core never authenticates users or manages sessions; it
// verifies bearer tokens the auth service issued and threads the resulting
// actor id explicitly through every call.
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActorClaims are the JWT claims custodia expects from the auth service.
type ActorClaims struct {
	jwt.RegisteredClaims
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Verifier validates actor tokens against the auth service's RSA public key.
type Verifier struct {
	pub    *rsa.PublicKey
	issuer string
}

// NewVerifier creates a Verifier from a PEM-encoded RSA public key.
// issuer, when non-empty, is enforced against the token's "iss" claim.
func NewVerifier(pubPEM []byte, issuer string) (*Verifier, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in auth public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse auth public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth public key is not RSA")
	}
	return &Verifier{pub: pub, issuer: issuer}, nil
}

// NewVerifierFromFile loads the auth service's public key from disk.
func NewVerifierFromFile(path, issuer string) (*Verifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth public key: %w", err)
	}
	return NewVerifier(pemBytes, issuer)
}

// Verify parses and validates an actor token, returning its claims.
func (v *Verifier) Verify(tokenStr string) (*ActorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ActorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return v.pub, nil
		},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("verify actor token: %w", err)
	}
	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid actor token claims")
	}
	if claims.ActorID == "" {
		return nil, fmt.Errorf("actor token missing actor_id")
	}
	return claims, nil
}

// TestIssuer issues actor tokens signed with a throwaway RSA key. It exists so
// handler tests and local development can mint tokens without a real auth
// service; production deployments only ever hold the public key.
type TestIssuer struct {
	key    *rsa.PrivateKey
	issuer string
}

// NewTestIssuer generates a keypair and returns the issuer plus a matching Verifier.
func NewTestIssuer(issuer string) (*TestIssuer, *Verifier, error) {
	key, err := generateKey()
	if err != nil {
		return nil, nil, err
	}
	return &TestIssuer{key: key, issuer: issuer}, &Verifier{pub: &key.PublicKey, issuer: issuer}, nil
}

// Issue returns a signed actor token valid for one hour.
func (t *TestIssuer) Issue(actorID, displayName, role string) (string, error) {
	now := time.Now().UTC()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		ActorID:     actorID,
		DisplayName: displayName,
		Role:        role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign actor token: %w", err)
	}
	return signed, nil
}
