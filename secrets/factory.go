package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// Factory creates secret stores from location URIs.
type Factory struct {
	log *slog.Logger

	// gcpOpts are extra client options for the Secret Manager client,
	// used by tests to point it at a fake endpoint.
	gcpOpts []option.ClientOption
}

// NewFactory creates a secret store factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// WithGCPOptions returns a copy of the factory carrying extra Secret Manager
// client options.
func (f *Factory) WithGCPOptions(opts ...option.ClientOption) *Factory {
	clone := *f
	clone.gcpOpts = append(clone.gcpOpts[:len(clone.gcpOpts):len(clone.gcpOpts)], opts...)
	return &clone
}

// StoreFor creates a secret store from a location URI.
//
// Supported schemes:
//   - gcpsm://<project>?label=<deployment> - Google Secret Manager
//   - vault://<host:port>/<mount>/<path>[?scheme=http] - HashiCorp Vault KV v2
//   - file:///<directory> - local directory (dev and tests)
func (f *Factory) StoreFor(ctx context.Context, loc interfaces.StoreLocation) (interfaces.SecretStore, error) {
	switch loc.Scheme {
	case "gcpsm":
		return f.createSecretManagerStore(ctx, loc)
	case "vault":
		return f.createVaultStore(loc)
	case "file":
		return f.createFileStore(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

func (f *Factory) createSecretManagerStore(ctx context.Context, loc interfaces.StoreLocation) (interfaces.SecretStore, error) {
	f.log.Debug("Creating Secret Manager store", slog.String("uri", loc.String()))

	projectID := loc.Host
	if projectID == "" {
		return nil, fmt.Errorf("%w: gcpsm URI needs a project ID host", interfaces.ErrInvalidLocationURI)
	}
	return NewSecretManagerStore(ctx, projectID, loc.GetParam("label"), f.log, f.gcpOpts...)
}

func (f *Factory) createVaultStore(loc interfaces.StoreLocation) (interfaces.SecretStore, error) {
	f.log.Debug("Creating Vault store", slog.String("uri", loc.String()))

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI needs /<mount>/<path>", interfaces.ErrInvalidLocationURI)
	}

	scheme := loc.GetParam("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, loc.Host)

	return NewVaultStore(address, parts[0], parts[1], f.log)
}

func (f *Factory) createFileStore(loc interfaces.StoreLocation) (interfaces.SecretStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", loc.String()))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	return NewFileStore(path, f.log)
}
