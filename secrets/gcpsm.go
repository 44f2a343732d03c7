package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// DeploymentLabel is the label key scoping secrets to a deployment. Secrets
// without it are invisible to the boot agent.
const DeploymentLabel = "iapgw-deployment"

// SecretManagerStore implements interfaces.SecretStore on Google Secret
// Manager. Secrets are scoped by the deployment label so one project can
// host several deployments without them seeing each other's material.
type SecretManagerStore struct {
	client      *secretmanager.Client
	projectID   string
	deployment  string
	log         *slog.Logger
	locationURI string
}

// NewSecretManagerStore creates a Secret Manager backed store.
// deployment may be empty, which disables label filtering and exposes every
// secret in the project (the original whole-project behavior).
func NewSecretManagerStore(ctx context.Context, projectID, deployment string, log *slog.Logger, opts ...option.ClientOption) (*SecretManagerStore, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}

	uri := fmt.Sprintf("gcpsm://%s", projectID)
	if deployment != "" {
		uri += "?label=" + deployment
	}

	return &SecretManagerStore{
		client:      client,
		projectID:   projectID,
		deployment:  deployment,
		log:         log,
		locationURI: uri,
	}, nil
}

// Close releases the underlying client connection.
func (s *SecretManagerStore) Close() error {
	return s.client.Close()
}

// List enumerates the deployment's secret names.
func (s *SecretManagerStore) List(ctx context.Context) ([]interfaces.SecretName, error) {
	req := &secretmanagerpb.ListSecretsRequest{
		Parent: "projects/" + s.projectID,
	}
	if s.deployment != "" {
		req.Filter = fmt.Sprintf("labels.%s=%s", DeploymentLabel, s.deployment)
	}

	var names []interfaces.SecretName
	it := s.client.ListSecrets(ctx, req)
	for {
		secret, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing secrets: %v", interfaces.ErrStoreUnavailable, err)
		}

		// Resource names look like projects/<p>/secrets/<id>.
		id := secret.Name[strings.LastIndex(secret.Name, "/")+1:]
		name, err := interfaces.NewSecretName(id)
		if err != nil {
			s.log.Warn("Skipping secret with unusable name",
				slog.String("resource", secret.Name), "err", err)
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Fetch retrieves the latest version's payload.
func (s *SecretManagerStore) Fetch(ctx context.Context, name interfaces.SecretName) ([]byte, error) {
	start := time.Now()

	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name),
	})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound, codes.FailedPrecondition:
			return nil, fmt.Errorf("%w: %s", interfaces.ErrSecretNotFound, name)
		case codes.Unavailable, codes.DeadlineExceeded:
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}

	s.log.Debug("Fetched secret version",
		slog.String("secret", name.String()),
		slog.Duration("duration", time.Since(start)))
	return resp.Payload.Data, nil
}

// Put creates the secret on first write and adds a new version.
func (s *SecretManagerStore) Put(ctx context.Context, name interfaces.SecretName, value []byte) error {
	labels := map[string]string{}
	if s.deployment != "" {
		labels[DeploymentLabel] = s.deployment
	}

	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: name.String(),
		Secret: &secretmanagerpb.Secret{
			Labels: labels,
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating secret %s: %w", name, err)
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name),
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	})
	if err != nil {
		return fmt.Errorf("adding version to secret %s: %w", name, err)
	}
	return nil
}

// Delete removes the secret and all its versions.
func (s *SecretManagerStore) Delete(ctx context.Context, name interfaces.SecretName) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name),
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting secret %s: %w", name, err)
	}
	return nil
}

// Available checks reachability with a one-item list call.
func (s *SecretManagerStore) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	it := s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   "projects/" + s.projectID,
		PageSize: 1,
	})
	_, err := it.Next()
	if err != nil && err != iterator.Done {
		s.log.Debug("Secret Manager availability check failed", "err", err)
		return false
	}
	return true
}

// Name returns an identifier for logging.
func (s *SecretManagerStore) Name() string {
	return "gcpsm-" + s.projectID
}

// LocationURI returns the URI identifying this store.
func (s *SecretManagerStore) LocationURI() string {
	return s.locationURI
}
