package provision

import (
	"context"
	"fmt"
	"log/slog"
)

// TeardownOpts controls what Teardown removes beyond the compute resources.
type TeardownOpts struct {
	// PurgeSecrets also deletes the deployment's secrets from the store.
	// Off by default so a teardown-and-reprovision keeps secret values.
	PurgeSecrets bool
}

// Teardown deletes the deployment's compute resources. Missing resources are
// tolerated so a partial teardown can be rerun.
func (p *Provisioner) Teardown(ctx context.Context, opts TeardownOpts) error {
	m := p.Manifest

	p.Log.Info("Tearing down deployment", slog.String("deployment", m.Name))

	if err := p.Cloud.DeleteInstance(ctx, m.Zone, m.Name); err != nil {
		return fmt.Errorf("deleting instance: %w", err)
	}
	if err := p.Cloud.DeleteFirewall(ctx, m.FirewallName()); err != nil {
		return fmt.Errorf("deleting firewall: %w", err)
	}
	if err := p.Cloud.DeleteRouter(ctx, m.Region(), m.RouterName()); err != nil {
		return fmt.Errorf("deleting router: %w", err)
	}

	if opts.PurgeSecrets {
		for _, name := range m.SecretNames() {
			if err := p.Store.Delete(ctx, name); err != nil {
				return fmt.Errorf("purging secret %s: %w", name, err)
			}
			p.Log.Info("Secret purged", slog.String("secret", name.String()))
		}
	}

	p.Log.Info("Deployment torn down", slog.String("deployment", m.Name))
	return nil
}
