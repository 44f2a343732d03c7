package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/perimeterlabs/iapgw/httpserver"
	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/secrets"
)

// Config holds everything the boot agent needs to bring the gateway up.
type Config struct {
	ArtifactURL    string
	ArtifactSHA256 string
	GatewayPort    int
	GatewayArgs    []string

	// BinaryPath where the gateway binary is installed.
	BinaryPath string

	// EnvFile receives the materialized secrets; must be on tmpfs unless
	// AllowDisk is set.
	EnvFile string

	// UnitPath of the gateway's systemd unit file.
	UnitPath string

	// ResolvConf consulted for the network readiness probe.
	ResolvConf string

	AllowDisk      bool
	NetworkTimeout time.Duration

	// SkipNetworkWait bypasses the DNS readiness probe, for running the
	// agent outside a freshly booting VM.
	SkipNetworkWait bool
}

// ApplyDefaults fills in the standard on-VM paths.
func (c *Config) ApplyDefaults() {
	if c.BinaryPath == "" {
		c.BinaryPath = "/opt/iapgw/bin/gateway"
	}
	if c.EnvFile == "" {
		c.EnvFile = "/run/iapgw/gateway.env"
	}
	if c.UnitPath == "" {
		c.UnitPath = "/etc/systemd/system/" + GatewayUnit
	}
	if c.ResolvConf == "" {
		c.ResolvConf = "/etc/resolv.conf"
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 2 * time.Minute
	}
}

// Publisher reports readiness to the outside world. Satisfied by
// *GuestAttributePublisher.
type Publisher interface {
	OnGCE() bool
	Publish(ctx context.Context, namespace, key, value string) error
}

// Agent repairs the gateway installation on every boot and refreshes
// secrets on demand. Its run state backs the diagnostics /status endpoint.
type Agent struct {
	cfg       Config
	store     interfaces.SecretStore
	systemd   UnitManager
	publisher Publisher
	log       *slog.Logger

	mu     sync.Mutex
	status httpserver.AgentStatus
}

func New(cfg Config, store interfaces.SecretStore, systemd UnitManager, publisher Publisher, log *slog.Logger) *Agent {
	cfg.ApplyDefaults()
	return &Agent{
		cfg:       cfg,
		store:     store,
		systemd:   systemd,
		publisher: publisher,
		log:       log,
		status: httpserver.AgentStatus{
			GatewayUnit:    GatewayUnit,
			ArtifactSHA256: cfg.ArtifactSHA256,
		},
	}
}

// Status implements httpserver.StatusSource.
func (a *Agent) Status() httpserver.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) recordRun(count, skipped int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.SecretCount = count
	a.status.SkippedSecrets = skipped
	a.status.LastRun = time.Now().UTC()
	if err != nil {
		a.status.LastError = err.Error()
	} else {
		a.status.LastError = ""
	}
}

// Ensure brings the VM to the desired state: network up, pinned gateway
// binary installed, secrets materialized, unit running, readiness
// published. Safe to run on every boot; each repair is independent.
func (a *Agent) Ensure(ctx context.Context) error {
	if !a.cfg.SkipNetworkWait {
		netCtx, cancel := context.WithTimeout(ctx, a.cfg.NetworkTimeout)
		err := WaitForNetwork(netCtx, a.cfg.ResolvConf, a.log)
		cancel()
		if err != nil {
			a.recordRun(0, 0, err)
			return err
		}
	}

	installed, err := InstallArtifact(ctx, a.cfg.ArtifactURL, a.cfg.ArtifactSHA256, a.cfg.BinaryPath)
	if err != nil {
		a.recordRun(0, 0, err)
		return err
	}
	if installed {
		a.log.Info("Gateway artifact installed",
			slog.String("path", a.cfg.BinaryPath),
			slog.String("sha256", a.cfg.ArtifactSHA256))
	}

	count, skipped, envChanged, err := a.materialize(ctx)
	if err != nil {
		a.recordRun(count, skipped, err)
		return err
	}

	unitChanged, err := ApplyUnit(ctx, a.systemd, a.cfg.UnitPath, RenderUnit(UnitParams{
		BinaryPath: a.cfg.BinaryPath,
		EnvFile:    a.cfg.EnvFile,
		Port:       a.cfg.GatewayPort,
		ExtraArgs:  a.cfg.GatewayArgs,
	}))
	if err != nil {
		a.recordRun(count, skipped, err)
		return err
	}

	if err := RestartUnit(ctx, a.systemd); err != nil {
		a.recordRun(count, skipped, err)
		return err
	}
	a.log.Info("Gateway unit running",
		slog.String("unit", GatewayUnit),
		slog.Bool("artifactInstalled", installed),
		slog.Bool("envChanged", envChanged),
		slog.Bool("unitChanged", unitChanged))

	if err := a.publishReady(ctx); err != nil {
		a.recordRun(count, skipped, err)
		return err
	}

	a.recordRun(count, skipped, nil)
	return nil
}

// Refresh re-materializes secrets and restarts the gateway only when the
// env file content actually changed.
func (a *Agent) Refresh(ctx context.Context) error {
	count, skipped, changed, err := a.materialize(ctx)
	if err != nil {
		a.recordRun(count, skipped, err)
		return err
	}

	if !changed {
		a.log.Info("Secrets unchanged, gateway left alone")
		a.recordRun(count, skipped, nil)
		return nil
	}

	if err := RestartUnit(ctx, a.systemd); err != nil {
		a.recordRun(count, skipped, err)
		return err
	}
	a.log.Info("Gateway restarted with refreshed secrets",
		slog.Int("secrets", count))

	a.recordRun(count, skipped, nil)
	return nil
}

// materialize fetches secrets and rewrites the env file if its content
// changed. Returns materialized count, skipped count, and whether the file
// was rewritten.
func (a *Agent) materialize(ctx context.Context) (count, skipped int, changed bool, err error) {
	listed, err := a.store.List(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("listing secrets: %w", err)
	}

	entries, err := secrets.Materialize(ctx, a.store, a.log)
	if err != nil {
		return 0, 0, false, err
	}
	count = len(entries)
	skipped = len(listed) - count

	data := secrets.BuildEnvFile(entries)
	existing, readErr := os.ReadFile(a.cfg.EnvFile)
	if readErr == nil && bytes.Equal(existing, data) {
		return count, skipped, false, nil
	}

	if err := secrets.WriteEnvFile(a.cfg.EnvFile, data, a.cfg.AllowDisk); err != nil {
		return count, skipped, false, err
	}
	return count, skipped, true, nil
}

func (a *Agent) publishReady(ctx context.Context) error {
	if !a.publisher.OnGCE() {
		a.log.Warn("Not running on GCE, skipping readiness attribute")
		return nil
	}
	return a.publisher.Publish(ctx, "iapgw", "ready", time.Now().UTC().Format(time.RFC3339))
}
