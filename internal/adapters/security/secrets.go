package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
	"github.com/hashicorp/vault/api"
)

// SecretStore holds the process-wide handshake secret and PBKDF2 work factor.
// Both are read once at startup and never change for the life of the process.
type SecretStore struct {
	secret     string
	iterations int
}

func NewSecretStore(secret string, iterations int) (*SecretStore, error) {
	if secret == "" {
		return nil, errors.New("handshake secret is required")
	}
	if iterations <= 0 {
		iterations = secure.DefaultIterations
	}
	return &SecretStore{secret: secret, iterations: iterations}, nil
}

func (s *SecretStore) ProcessSecret() string { return s.secret }

func (s *SecretStore) Iterations() int { return s.iterations }

// VaultConfig points at a KV v2 secret, e.g. Path "secret/data/license-activation".
type VaultConfig struct {
	Address string
	Token   string
	Path    string
	Field   string
}

// LoadVaultSecret reads one string field from a KV v2 secret.
func LoadVaultSecret(ctx context.Context, cfg VaultConfig) (string, error) {
	if cfg.Address == "" || cfg.Path == "" {
		return "", errors.New("vault address and secret path are required")
	}
	field := cfg.Field
	if field == "" {
		field = "handshake_secret"
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return "", fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	secret, err := client.Logical().ReadWithContext(ctx, cfg.Path)
	if err != nil {
		return "", fmt.Errorf("read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s not found", cfg.Path)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", errors.New("invalid vault secret format")
	}
	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("vault secret field %q is missing", field)
	}
	return value, nil
}
