package exchange

import (
	"fmt"

	"futuresagent/pkg/crypto"
)

// Decryptor is the subset of crypto.KeyManager used to recover live
// exchange credentials from encrypted-at-rest storage.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// LoadCredentials decrypts an API key/secret pair previously encrypted with
// km.Encrypt, so plaintext credentials never sit on disk or in the Store.
func LoadCredentials(km *crypto.KeyManager, encryptedAPIKey, encryptedAPISecret string) (Credentials, error) {
	apiKey, err := km.Decrypt(encryptedAPIKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange: decrypt api key: %w", err)
	}
	apiSecret, err := km.Decrypt(encryptedAPISecret)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange: decrypt api secret: %w", err)
	}
	return Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}
