// Package credential stores the OAuth token and mailbox passwords.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// ErrNotFound is returned when no token or secret has been stored yet.
var ErrNotFound = errors.New("credential not found")

// TokenStore persists an OAuth token between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// FileTokenStore keeps the token as JSON in a single file.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path) // #nosec G304 - path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("token %s: %w", s.Path, ErrNotFound)
		}
		return nil, fmt.Errorf("read token %s: %w", s.Path, err)
	}
	return decodeToken(data)
}

func (s FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write token %s: %w", s.Path, err)
	}
	return nil
}

// KeyringTokenStore keeps the token in the system keyring.
type KeyringTokenStore struct {
	Ring keyring.Keyring
	Key  string
}

const defaultTokenKey = "gmail-oauth-token"

func (s KeyringTokenStore) key() string {
	if s.Key == "" {
		return defaultTokenKey
	}
	return s.Key
}

func (s KeyringTokenStore) Load() (*oauth2.Token, error) {
	raw, err := Secret(s.Ring, s.key())
	if err != nil {
		return nil, err
	}
	return decodeToken([]byte(raw))
}

func (s KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return SetSecret(s.Ring, s.key(), string(data))
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("decode token: %w", ErrNotFound)
	}
	return &tok, nil
}

var (
	_ TokenStore = FileTokenStore{}
	_ TokenStore = KeyringTokenStore{}
)
