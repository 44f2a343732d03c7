package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perimeterlabs/iapgw/gcp"
	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/manifest"
	"github.com/perimeterlabs/iapgw/metrics"
)

// CloudAPI is the subset of gcp.Connection the pipeline uses. Tests swap in
// a mock.
type CloudAPI interface {
	TestPermissions(ctx context.Context, perms []string) ([]string, error)
	EnsureServiceEnabled(ctx context.Context, service string) (bool, error)
	EnsureFirewall(ctx context.Context, rule gcp.FirewallRule) (bool, error)
	EnsureNAT(ctx context.Context, cfg gcp.NATConfig) (bool, error)
	EnsureInstance(ctx context.Context, spec gcp.InstanceSpec) (bool, error)
	EnsureBinding(ctx context.Context, role, member string) (bool, error)
	InstanceStatus(ctx context.Context, zone, name string) (string, error)
	GuestAttribute(ctx context.Context, zone, name, namespace, key string) (string, error)
	DeleteInstance(ctx context.Context, zone, name string) error
	DeleteFirewall(ctx context.Context, name string) error
	DeleteRouter(ctx context.Context, region, name string) error
}

// Guest attribute the boot agent publishes once the gateway is up.
const (
	ReadyAttributeNamespace = "iapgw"
	ReadyAttributeKey       = "ready"
)

// Provisioner runs the deployment pipeline against one manifest.
type Provisioner struct {
	Manifest *manifest.Manifest
	Cloud    CloudAPI
	Store    interfaces.SecretStore
	Log      *slog.Logger

	// SSHKeyPath is where the operator's tunnel keypair lives; generated
	// on first provision.
	SSHKeyPath string

	// SSHUser is the login injected into instance metadata.
	SSHUser string

	// HealthTimeout bounds the final readiness wait. Zero disables the
	// health check.
	HealthTimeout time.Duration

	// PollInterval between health probes.
	PollInterval time.Duration
}

// Provision runs the pipeline. Every step is idempotent: existing resources
// in the desired shape are skipped, so rerunning after a partial failure
// completes the remainder.
func (p *Provisioner) Provision(ctx context.Context) error {
	m := p.Manifest

	steps := []struct {
		name string
		run  func(context.Context) (bool, error)
	}{
		{"preflight", p.stepPreflight},
		{"enable-apis", p.stepEnableAPIs},
		{"seed-secrets", p.stepSeedSecrets},
		{"firewall", p.stepFirewall},
		{"nat", p.stepNAT},
		{"instance", p.stepInstance},
		{"iam", p.stepIAM},
		{"health", p.stepHealth},
	}

	p.Log.Info("Provisioning deployment",
		slog.String("deployment", m.Name),
		slog.String("project", m.Project),
		slog.String("zone", m.Zone))

	for _, step := range steps {
		changed, err := step.run(ctx)
		switch {
		case err != nil:
			metrics.ProvisionSteps.WithLabelValues(step.name, "failed").Inc()
			return fmt.Errorf("step %s: %w", step.name, err)
		case changed:
			metrics.ProvisionSteps.WithLabelValues(step.name, "applied").Inc()
			p.Log.Info("Step applied changes", slog.String("step", step.name))
		default:
			metrics.ProvisionSteps.WithLabelValues(step.name, "skipped").Inc()
			p.Log.Debug("Step was a no-op", slog.String("step", step.name))
		}
	}

	p.Log.Info("Deployment provisioned", slog.String("deployment", m.Name))
	return nil
}

func (p *Provisioner) stepEnableAPIs(ctx context.Context) (bool, error) {
	var changed bool
	for _, service := range gcp.RequiredServices {
		c, err := p.Cloud.EnsureServiceEnabled(ctx, service)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

// stepSeedSecrets creates every manifest secret with a placeholder sentinel
// version so the namespace exists before the VM first boots. Secrets that
// already hold a value (sentinel or real) are never overwritten.
func (p *Provisioner) stepSeedSecrets(ctx context.Context) (bool, error) {
	var changed bool
	for _, name := range p.Manifest.SecretNames() {
		_, err := p.Store.Fetch(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, interfaces.ErrSecretNotFound) {
			return changed, fmt.Errorf("checking secret %s: %w", name, err)
		}

		if err := p.Store.Put(ctx, name, []byte(interfaces.SentinelUnset)); err != nil {
			return changed, fmt.Errorf("seeding secret %s: %w", name, err)
		}
		p.Log.Info("Secret seeded with placeholder", slog.String("secret", name.String()))
		changed = true
	}
	return changed, nil
}

func (p *Provisioner) stepFirewall(ctx context.Context) (bool, error) {
	m := p.Manifest
	return p.Cloud.EnsureFirewall(ctx, gcp.FirewallRule{
		Name:      m.FirewallName(),
		Network:   m.Network,
		TargetTag: m.NetworkTag(),
		Ports:     []string{"22", fmt.Sprintf("%d", m.Gateway.Port)},
	})
}

func (p *Provisioner) stepNAT(ctx context.Context) (bool, error) {
	m := p.Manifest
	return p.Cloud.EnsureNAT(ctx, gcp.NATConfig{
		RouterName: m.RouterName(),
		NATName:    m.NATName(),
		Region:     m.Region(),
		Network:    m.Network,
	})
}

func (p *Provisioner) stepInstance(ctx context.Context) (bool, error) {
	m := p.Manifest

	sshKeys, err := p.sshMetadata()
	if err != nil {
		return false, err
	}

	script, err := RenderStartupScript(m)
	if err != nil {
		return false, err
	}

	return p.Cloud.EnsureInstance(ctx, gcp.InstanceSpec{
		Name:           m.Name,
		Zone:           m.Zone,
		MachineType:    m.MachineType,
		Image:          m.Image,
		DiskSizeGB:     m.DiskSizeGB,
		Network:        m.Network,
		Tag:            m.NetworkTag(),
		ServiceAccount: m.ServiceAccount,
		StartupScript:  script,
		SSHPublicKey:   sshKeys,
		Labels:         map[string]string{"iapgw-deployment": m.Name},
	})
}

func (p *Provisioner) stepIAM(ctx context.Context) (bool, error) {
	m := p.Manifest
	var changed bool

	for _, member := range m.IAPMembers {
		c, err := p.Cloud.EnsureBinding(ctx, gcp.RoleTunnelAccessor, member)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}

	if m.ServiceAccount != "" {
		saMember := "serviceAccount:" + m.ServiceAccount
		for _, role := range []string{gcp.RoleSecretAccessor, gcp.RoleLogWriter, gcp.RoleMetricWriter} {
			c, err := p.Cloud.EnsureBinding(ctx, role, saMember)
			if err != nil {
				return changed, err
			}
			changed = changed || c
		}
	}
	return changed, nil
}

// stepHealth waits for the instance to run and the boot agent to publish its
// readiness guest attribute.
func (p *Provisioner) stepHealth(ctx context.Context) (bool, error) {
	if p.HealthTimeout <= 0 {
		return false, nil
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, p.HealthTimeout)
	defer cancel()

	m := p.Manifest
	for {
		status, err := p.Cloud.InstanceStatus(ctx, m.Zone, m.Name)
		if err != nil {
			return false, err
		}
		if status == gcp.StatusRunning {
			ready, err := p.Cloud.GuestAttribute(ctx, m.Zone, m.Name,
				ReadyAttributeNamespace, ReadyAttributeKey)
			if err != nil {
				return false, err
			}
			if ready != "" {
				p.Log.Info("Gateway reported ready",
					slog.String("instance", m.Name), slog.String("ready", ready))
				return false, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("gateway did not become ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
