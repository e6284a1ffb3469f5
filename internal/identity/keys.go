package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

const keyBits = 2048

func generateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return key, nil
}
