package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials holds the identity material for a Custodia SDK client.
// It is written to disk by 'custodia login' and read back by
// NewFromCredentialsDir.
type Credentials struct {
	// BaseURL is the ledger service the credentials were issued for.
	BaseURL string `json:"base_url"`

	// Token is the bearer token from the agency identity provider.
	// Empty when the profile targets a development server.
	Token string `json:"token,omitempty"`

	// ActorID identifies the operator on development servers that run
	// without token verification.
	ActorID string `json:"actor_id,omitempty"`
}

// LoadCredentials reads credentials.json from dir.
//
//	creds, err := client.LoadCredentials(os.ExpandEnv("$HOME/.custodia"))
func LoadCredentials(dir string) (*Credentials, error) {
	b, err := os.ReadFile(filepath.Join(dir, "credentials.json"))
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.BaseURL == "" {
		return nil, fmt.Errorf("credentials missing base_url")
	}
	return &creds, nil
}

// Save writes the credentials to credentials.json in dir with owner-only
// permissions, creating dir if needed.
func (cr *Credentials) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	b, err := json.MarshalIndent(cr, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.json"), b, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// NewFromCredentialsDir creates an SDK client from the profile written by
// 'custodia login'. Additional options can be appended:
//
//	c, err := client.NewFromCredentialsDir(
//	    os.ExpandEnv("$HOME/.custodia"),
//	    client.WithVerifyCacheTTL(30*time.Second),
//	)
func NewFromCredentialsDir(dir string, opts ...Option) (*Client, error) {
	creds, err := LoadCredentials(dir)
	if err != nil {
		return nil, fmt.Errorf("load credentials from %q: %w", dir, err)
	}

	loaded := make([]Option, 0, 2)
	if creds.Token != "" {
		loaded = append(loaded, WithBearerToken(creds.Token))
	}
	if creds.ActorID != "" {
		loaded = append(loaded, WithActorID(creds.ActorID))
	}
	return New(strings.TrimRight(creds.BaseURL, "/"), append(loaded, opts...)...)
}
