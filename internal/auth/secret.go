package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btouchard/tandem/internal/config"
)

const secretFileName = "jwt.secret"

// SigningKey returns the HMAC key for access tokens. An explicit
// auth.jwt_secret wins; otherwise the key lives in auth.secret_dir and is
// generated on first use.
func SigningKey(cfg config.AuthConfig) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	secret, err := LoadOrCreateSecret(cfg.SecretDir)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// LoadOrCreateSecret reads the key from dir, or generates and persists a
// new 256-bit hex key if the file is missing or blank.
func LoadOrCreateSecret(dir string) (string, error) {
	path := filepath.Join(dir, secretFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	}

	return RotateSecret(dir)
}

// RotateSecret replaces the key in dir with a fresh one. Every token
// signed with the previous key stops validating.
func RotateSecret(dir string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	secret := hex.EncodeToString(b)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating secret dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretFileName), []byte(secret), 0600); err != nil {
		return "", fmt.Errorf("writing secret: %w", err)
	}
	return secret, nil
}
