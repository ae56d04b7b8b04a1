package apikeys

import (
	"strings"
	"testing"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func TestSecretGenerator_Generate(t *testing.T) {
	g := NewSecretGenerator(testHashKey)

	secret, secretHash, prefix, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Errorf("secret should start with %q, got %q", SecretPrefix, secret)
	}

	// HMAC-SHA256 = 64 hex chars
	if len(secretHash) != 64 {
		t.Errorf("secretHash length = %d, want 64", len(secretHash))
	}

	if prefix != secret[:len(SecretPrefix)+8] {
		t.Errorf("prefix = %q, want the leading %d chars of the secret", prefix, len(SecretPrefix)+8)
	}

	if strings.Contains(secretHash, secret) {
		t.Error("hash must not contain the cleartext secret")
	}
}

func TestSecretGenerator_Generate_Uniqueness(t *testing.T) {
	g := NewSecretGenerator(testHashKey)

	secrets := make(map[string]bool)
	for i := 0; i < 100; i++ {
		secret, _, _, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if secrets[secret] {
			t.Errorf("duplicate secret generated: %s", secret)
		}
		secrets[secret] = true
	}
}

func TestSecretGenerator_Verify(t *testing.T) {
	g := NewSecretGenerator(testHashKey)

	secret, secretHash, _, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !g.Verify(secret, secretHash) {
		t.Error("Verify should accept the original secret")
	}
	if g.Verify(secret+"x", secretHash) {
		t.Error("Verify should reject a tampered secret")
	}
	if g.Verify("", secretHash) {
		t.Error("Verify should reject an empty secret")
	}
}

func TestSecretGenerator_KeyedHash(t *testing.T) {
	g1 := NewSecretGenerator(testHashKey)
	g2 := NewSecretGenerator("another-hash-key-another-hash-key")

	secret := SecretPrefix + "dGVzdHNlY3JldA"
	if g1.Hash(secret) == g2.Hash(secret) {
		t.Error("different keys must produce different hashes")
	}
	if g1.Hash(secret) != g1.Hash(secret) {
		t.Error("same key must produce a stable hash")
	}
}

func TestSecretGenerator_ValidateFormat(t *testing.T) {
	g := NewSecretGenerator(testHashKey)

	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid", SecretPrefix + "dGVzdHNlY3JldA", false},
		{"wrong prefix", "other_dGVzdHNlY3JldA", true},
		{"empty", "", true},
		{"prefix only", SecretPrefix, true},
		{"bad encoding", SecretPrefix + "!!!not-base64!!!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateFormat(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
			}
		})
	}
}

func TestSecretGenerator_ExtractPrefix(t *testing.T) {
	g := NewSecretGenerator(testHashKey)

	if got := g.ExtractPrefix(SecretPrefix + "abcdefghij"); got != SecretPrefix+"abcdefgh" {
		t.Errorf("ExtractPrefix = %q, want %q", got, SecretPrefix+"abcdefgh")
	}
	// Shorter than the prefix window: returned whole
	if got := g.ExtractPrefix(SecretPrefix + "abc"); got != SecretPrefix+"abc" {
		t.Errorf("ExtractPrefix = %q, want %q", got, SecretPrefix+"abc")
	}
	if got := g.ExtractPrefix("nope_abcdefghij"); got != "" {
		t.Errorf("ExtractPrefix of foreign secret = %q, want empty", got)
	}
}
