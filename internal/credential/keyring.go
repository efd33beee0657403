package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "chronoreply"

// OpenKeyring returns the platform keyring, falling back to an encrypted file
// under ~/.config/chronoreply/credentials.
func OpenKeyring() (keyring.Keyring, error) {
	dir := "~/.config/chronoreply/credentials"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", serviceName, "credentials")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

// Secret reads key from ring.
func Secret(ring keyring.Keyring, key string) (string, error) {
	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("secret %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("get secret %q: %w", key, err)
	}
	return string(item.Data), nil
}

// SetSecret stores value under key.
func SetSecret(ring keyring.Keyring, key, value string) error {
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: serviceName + " " + key}); err != nil {
		return fmt.Errorf("set secret %q: %w", key, err)
	}
	return nil
}
