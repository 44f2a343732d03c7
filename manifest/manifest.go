// Package manifest loads and validates the TOML deployment manifest that
// drives the provisioner. One manifest describes exactly one gateway VM.
package manifest

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// Gateway describes the third-party gateway process installed on the VM.
type Gateway struct {
	// ArtifactURL is where the boot agent downloads the gateway binary
	// from: https://, s3:// or file://.
	ArtifactURL string `toml:"artifact-url"`

	// ArtifactSHA256 pins the artifact; the agent refuses a mismatch.
	ArtifactSHA256 string `toml:"artifact-sha256"`

	// Port the gateway listens on; opened for IAP ingress.
	Port int `toml:"port"`

	// ExtraArgs are appended to the gateway's ExecStart line.
	ExtraArgs []string `toml:"extra-args"`
}

// Agent pins the boot agent binary the startup script installs. When the
// section is absent the VM image is expected to ship the agent already.
type Agent struct {
	ArtifactURL    string `toml:"artifact-url"`
	ArtifactSHA256 string `toml:"artifact-sha256"`
}

// Manifest is the deployment description.
type Manifest struct {
	Project     string `toml:"project"`
	Zone        string `toml:"zone"`
	Name        string `toml:"name"`
	MachineType string `toml:"machine-type"`
	Image       string `toml:"image"`
	DiskSizeGB  int64  `toml:"disk-size-gb"`
	Network     string `toml:"network"`

	// ServiceAccount runs the VM; empty selects the project default.
	ServiceAccount string `toml:"service-account"`

	// SecretStore is the store URI the provisioner seeds and the boot
	// agent reads. Defaults to gcpsm://<project>?label=<name>.
	SecretStore string `toml:"secret-store"`

	// Secrets are the names seeded with sentinel versions at provision
	// time.
	Secrets []string `toml:"secrets"`

	// IAPMembers are IAM members granted tunnel access,
	// e.g. "user:alice@example.com" or "group:ops@example.com".
	IAPMembers []string `toml:"iap-members"`

	Gateway Gateway `toml:"gateway"`
	Agent   Agent   `toml:"agent"`
}

const (
	defaultMachineType = "e2-small"
	defaultImage       = "projects/debian-cloud/global/images/family/debian-12"
	defaultDiskSizeGB  = 20
	defaultNetwork     = "default"
	defaultPort        = 8443
)

// Load reads, defaults and validates a manifest file.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	if err := m.Finalize(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Finalize applies defaults and validates the manifest.
func (m *Manifest) Finalize() error {
	if m.MachineType == "" {
		m.MachineType = defaultMachineType
	}
	if m.Image == "" {
		m.Image = defaultImage
	}
	if m.DiskSizeGB == 0 {
		m.DiskSizeGB = defaultDiskSizeGB
	}
	if m.Network == "" {
		m.Network = defaultNetwork
	}
	if m.Gateway.Port == 0 {
		m.Gateway.Port = defaultPort
	}
	if m.SecretStore == "" && m.Project != "" && m.Name != "" {
		m.SecretStore = fmt.Sprintf("gcpsm://%s?label=%s", m.Project, m.Name)
	}

	switch {
	case m.Project == "":
		return fmt.Errorf("project is required")
	case m.Zone == "":
		return fmt.Errorf("zone is required")
	case m.Name == "":
		return fmt.Errorf("name is required")
	case m.Gateway.ArtifactURL == "":
		return fmt.Errorf("gateway.artifact-url is required")
	case m.Gateway.ArtifactSHA256 == "":
		return fmt.Errorf("gateway.artifact-sha256 is required")
	}

	if m.Agent.ArtifactURL != "" && m.Agent.ArtifactSHA256 == "" {
		return fmt.Errorf("agent.artifact-sha256 is required when agent.artifact-url is set")
	}
	if _, err := interfaces.NewStoreLocation(m.SecretStore); err != nil {
		return fmt.Errorf("secret-store: %w", err)
	}
	for _, s := range m.Secrets {
		if _, err := interfaces.NewSecretName(s); err != nil {
			return err
		}
	}
	for _, member := range m.IAPMembers {
		if !validMember(member) {
			return fmt.Errorf("invalid IAP member %q: want user:, group:, serviceAccount: or domain: prefix", member)
		}
	}
	return nil
}

func validMember(member string) bool {
	for _, prefix := range []string{"user:", "group:", "serviceAccount:", "domain:"} {
		if strings.HasPrefix(member, prefix) && len(member) > len(prefix) {
			return true
		}
	}
	return false
}

// SecretNames returns the validated secret names.
func (m *Manifest) SecretNames() []interfaces.SecretName {
	out := make([]interfaces.SecretName, 0, len(m.Secrets))
	for _, s := range m.Secrets {
		out = append(out, interfaces.SecretName(s))
	}
	return out
}

// Derived resource names. One deployment owns one of each, named after it.

// FirewallName returns the name of the IAP ingress allow rule.
func (m *Manifest) FirewallName() string { return m.Name + "-allow-iap" }

// RouterName returns the Cloud Router name.
func (m *Manifest) RouterName() string { return m.Name + "-router" }

// NATName returns the Cloud NAT name.
func (m *Manifest) NATName() string { return m.Name + "-nat" }

// NetworkTag returns the instance tag targeted by the firewall rule.
func (m *Manifest) NetworkTag() string { return m.Name + "-gw" }

// Region returns the region derived from the zone.
func (m *Manifest) Region() string {
	i := strings.LastIndex(m.Zone, "-")
	if i < 0 {
		return m.Zone
	}
	return m.Zone[:i]
}
