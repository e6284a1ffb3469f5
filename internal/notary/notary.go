// Package notary provides optional Ed25519 signing of custody entry hashes.
//
// When a notary is configured, every appended custody event carries a
// signature over its entry hash, and the audit service checks those
// signatures during verification. This is a local signing anchor; external
// notarization of chain heads is deliberately out of scope.
package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFile = "notary.key"
	pubFile = "notary.pub"
)

// Notary signs and verifies custody entry hashes with an Ed25519 keypair.
type Notary struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadOrCreate loads the notary keypair from dir if present; generates and
// persists a new one otherwise.
func LoadOrCreate(dir string) (*Notary, error) {
	n, err := load(dir)
	if err == nil {
		return n, nil
	}
	return create(dir)
}

func load(dir string) (*Notary, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("read notary key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "ED25519 PRIVATE KEY" || len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("malformed notary key file")
	}
	priv := ed25519.PrivateKey(block.Bytes)
	return &Notary{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func create(dir string) (*Notary, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create notary dir %q: %w", dir, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate notary key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: priv})
	if err := os.WriteFile(filepath.Join(dir, keyFile), keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write notary key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PUBLIC KEY", Bytes: pub})
	if err := os.WriteFile(filepath.Join(dir, pubFile), pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write notary public key: %w", err)
	}

	return &Notary{priv: priv, pub: pub}, nil
}

// NewEphemeral generates an in-memory notary that is never persisted. For tests.
func NewEphemeral() (*Notary, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Notary{priv: priv, pub: pub}, nil
}

// Sign returns the hex-encoded Ed25519 signature over the entry hash.
func (n *Notary) Sign(entryHash string) string {
	return hex.EncodeToString(ed25519.Sign(n.priv, []byte(entryHash)))
}

// Verify reports whether signature is a valid hex-encoded signature over the
// entry hash.
func (n *Notary) Verify(entryHash, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(n.pub, []byte(entryHash), sig)
}

// PublicKeyHex returns the hex-encoded public key, for display and export.
func (n *Notary) PublicKeyHex() string {
	return hex.EncodeToString(n.pub)
}
