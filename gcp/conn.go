package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/cloudresourcemanager/v1"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
)

// Scopes required by the provisioner's API clients.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
}

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// ProjectID is the target project for all calls.
	ProjectID string

	// Endpoint overrides the API endpoint. Used by tests to point the
	// clients at a local fake; authentication is disabled when set.
	Endpoint string

	Log *slog.Logger
}

// Connection provides methods for interacting with the GCE, Service Usage
// and Resource Manager APIs. The methods are limited to those needed by the
// iapgw provisioner.
type Connection struct {
	compute      *compute.Service
	serviceusage *serviceusage.Service
	crm          *cloudresourcemanager.Service

	projectID string
	log       *slog.Logger
}

// Connect builds the API clients using application default credentials, or
// an unauthenticated client against cfg.Endpoint when one is set.
func Connect(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("gcp: project ID is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.Endpoint),
			option.WithoutAuthentication(),
		)
	} else {
		opts = append(opts, option.WithScopes(Scopes...))
	}

	computeSvc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcp: creating compute client: %w", err)
	}
	usageSvc, err := serviceusage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcp: creating serviceusage client: %w", err)
	}
	crmSvc, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcp: creating cloudresourcemanager client: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Connection{
		compute:      computeSvc,
		serviceusage: usageSvc,
		crm:          crmSvc,
		projectID:    cfg.ProjectID,
		log:          log,
	}, nil
}

// ProjectID returns the project this connection operates on.
func (c *Connection) ProjectID() string { return c.projectID }

// RegionFromZone derives the region name from a zone name,
// e.g. "europe-west1-b" -> "europe-west1".
func RegionFromZone(zone string) string {
	i := strings.LastIndex(zone, "-")
	if i < 0 {
		return zone
	}
	return zone[:i]
}
