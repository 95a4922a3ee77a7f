package exchange

import (
	"testing"

	"futuresagent/pkg/crypto"
)

func TestLoadCredentialsDecryptsRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY", key)

	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}

	encryptedKey, err := km.Encrypt("api-key-value")
	if err != nil {
		t.Fatalf("Encrypt api key: %v", err)
	}
	encryptedSecret, err := km.Encrypt("api-secret-value")
	if err != nil {
		t.Fatalf("Encrypt api secret: %v", err)
	}

	creds, err := LoadCredentials(km, encryptedKey, encryptedSecret)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.APIKey != "api-key-value" || creds.APISecret != "api-secret-value" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestLoadCredentialsPropagatesDecryptError(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY", key)
	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}

	if _, err := LoadCredentials(km, "not-valid-ciphertext", "also-not-valid"); err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
}
