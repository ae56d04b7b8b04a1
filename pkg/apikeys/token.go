package apikeys

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SecretPrefix identifies issued credentials
	SecretPrefix = "itqan_"
	// SecretLength is the total length of random bytes (32 bytes = 256 bits)
	SecretLength = 32
	// prefixChars is how many secret characters the searchable prefix keeps
	prefixChars = 8
)

// SecretGenerator generates credential secrets and derives their stored
// form. The hash is keyed: a database dump alone cannot be used to forge
// valid presentations.
type SecretGenerator struct {
	hashKey []byte
}

// NewSecretGenerator creates a generator keyed with the given hash key
func NewSecretGenerator(hashKey string) *SecretGenerator {
	return &SecretGenerator{hashKey: []byte(hashKey)}
}

// Generate creates a new secret.
// Format: itqan_<base64url(32 random bytes)>
func (g *SecretGenerator) Generate() (secret string, secretHash string, prefix string, err error) {
	randomBytes := make([]byte, SecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	secret = SecretPrefix + encoded

	return secret, g.Hash(secret), g.ExtractPrefix(secret), nil
}

// Hash computes the keyed hash of a secret for storage and lookup
func (g *SecretGenerator) Hash(secret string) string {
	mac := hmac.New(sha256.New, g.hashKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a presented secret against a stored hash in constant time
func (g *SecretGenerator) Verify(presented, storedHash string) bool {
	return hmac.Equal([]byte(g.Hash(presented)), []byte(storedHash))
}

// ValidateFormat checks if a presented secret has the expected shape
func (g *SecretGenerator) ValidateFormat(secret string) error {
	if !strings.HasPrefix(secret, SecretPrefix) {
		return fmt.Errorf("secret must start with %q", SecretPrefix)
	}

	encoded := strings.TrimPrefix(secret, SecretPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("secret is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}
	return nil
}

// ExtractPrefix extracts the searchable, displayable prefix of a secret
func (g *SecretGenerator) ExtractPrefix(secret string) string {
	if !strings.HasPrefix(secret, SecretPrefix) {
		return ""
	}

	encoded := strings.TrimPrefix(secret, SecretPrefix)
	if len(encoded) >= prefixChars {
		return SecretPrefix + encoded[:prefixChars]
	}
	return secret
}
