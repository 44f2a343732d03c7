package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// VaultStore implements interfaces.SecretStore on a HashiCorp Vault KV v2
// mount. Authentication uses the standard VAULT_TOKEN environment variable
// (or any auth method that already populated the client token).
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault KV v2 backed store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount holding the deployment's secrets
func NewVaultStore(address, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (s *VaultStore) dataKey(name interfaces.SecretName) string {
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, name)
}

// List enumerates secret names under the deployment path.
func (s *VaultStore) List(ctx context.Context) ([]interfaces.SecretName, error) {
	path := fmt.Sprintf("%s/metadata/%s", s.mountPath, s.dataPath)
	secret, err := s.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", interfaces.ErrStoreUnavailable, path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected list format at %s", path)
	}

	var names []interfaces.SecretName
	for _, k := range keys {
		raw, ok := k.(string)
		if !ok {
			continue
		}
		name, err := interfaces.NewSecretName(strings.TrimSuffix(raw, "/"))
		if err != nil {
			s.log.Warn("Skipping vault entry with unusable name",
				slog.String("entry", raw), "err", err)
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Fetch reads the "value" field of the KV v2 entry.
func (s *VaultStore) Fetch(ctx context.Context, name interfaces.SecretName) ([]byte, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataKey(name))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", interfaces.ErrStoreUnavailable, name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrSecretNotFound, name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected KV v2 format for %s", name)
	}
	value, ok := data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no value field", interfaces.ErrSecretNotFound, name)
	}
	return []byte(value), nil
}

// Put writes a new KV v2 version with the value under the "value" field.
func (s *VaultStore) Put(ctx context.Context, name interfaces.SecretName, value []byte) error {
	_, err := s.client.Logical().WriteWithContext(ctx, s.dataKey(name), map[string]interface{}{
		"data": map[string]interface{}{
			"value": string(value),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", interfaces.ErrStoreUnavailable, name, err)
	}
	return nil
}

// Delete removes the secret's metadata and all versions.
func (s *VaultStore) Delete(ctx context.Context, name interfaces.SecretName) error {
	path := fmt.Sprintf("%s/metadata/%s/%s", s.mountPath, s.dataPath, name)
	if _, err := s.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: deleting %s: %v", interfaces.ErrStoreUnavailable, name, err)
	}
	return nil
}

// Available checks that Vault is initialized and unsealed.
func (s *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		s.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		s.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns an identifier for logging.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}

// LocationURI returns the URI identifying this store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}
