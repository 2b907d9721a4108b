package config

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "entitystore"

	// KeyringNeo4jPasswordItem holds the graph export password
	KeyringNeo4jPasswordItem = "neo4j-password"

	// KeyringRedisPasswordItem holds the shared cache password
	KeyringRedisPasswordItem = "redis-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *logrus.Entry
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: logrus.WithField("component", "keyring"),
	}
}

// Set stores a secret under item
// This uses OS-level encryption:
// - macOS: Keychain Access.app → "entitystore" → item
// - Windows: Credential Manager → "entitystore"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) Set(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}

	if err := keyring.Set(KeyringService, item, secret); err != nil {
		km.logger.WithError(err).WithField("item", item).Error("failed to save secret to keychain")
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.WithField("item", item).Info("secret saved to keychain")
	return nil
}

// Get retrieves a secret. A missing item is not an error.
func (km *KeyringManager) Get(item string) (string, error) {
	secret, err := keyring.Get(KeyringService, item)
	if errors.Is(err, keyring.ErrNotFound) {
		// Not an error - just not set yet
		return "", nil
	}
	if err != nil {
		km.logger.WithError(err).WithField("item", item).Debug("failed to read secret from keychain")
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return secret, nil
}

// Delete removes a secret. Deleting a missing item is not an error.
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if errors.Is(err, keyring.ErrNotFound) {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.WithField("item", item).Info("secret deleted from keychain")
	return nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems (CI/CD) where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	// Try to access keyring with a test operation
	_, err := keyring.Get(KeyringService, "test-availability")

	// If error is "not found", keychain is available
	if errors.Is(err, keyring.ErrNotFound) {
		return true
	}
	if err != nil {
		km.logger.WithError(err).Debug("keychain not available")
		return false
	}

	return true
}

// MaskSecret masks a secret for display
// Shows first 3 chars and last 2 chars: "sup...rd"
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:3], secret[len(secret)-2:])
}
