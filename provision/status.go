package provision

import (
	"context"
	"fmt"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// SecretStatus reports one deployment secret's state: "set", "unset" while
// it still holds the placeholder, or "error" when the fetch failed.
type SecretStatus struct {
	Name   string `json:"name"`
	EnvKey string `json:"env_key"`
	State  string `json:"state"`
}

// DeploymentStatus is a point-in-time view of the deployment, suitable for
// JSON output.
type DeploymentStatus struct {
	Name           string         `json:"name"`
	Project        string         `json:"project"`
	Zone           string         `json:"zone"`
	InstanceStatus string         `json:"instance_status"`
	GatewayReady   string         `json:"gateway_ready,omitempty"`
	Secrets        []SecretStatus `json:"secrets"`
	TunnelCommand  string         `json:"tunnel_command"`
}

// Status reports the instance state, the agent's readiness attribute, and
// each configured secret's state.
func (p *Provisioner) Status(ctx context.Context) (*DeploymentStatus, error) {
	m := p.Manifest

	st := &DeploymentStatus{
		Name:    m.Name,
		Project: m.Project,
		Zone:    m.Zone,
		TunnelCommand: fmt.Sprintf(
			"gcloud compute start-iap-tunnel %s %d --project=%s --zone=%s --local-host-port=localhost:%d",
			m.Name, m.Gateway.Port, m.Project, m.Zone, m.Gateway.Port),
	}

	for _, name := range m.SecretNames() {
		state := "set"
		value, err := p.Store.Fetch(ctx, name)
		switch {
		case err != nil:
			state = "error"
		case string(value) == interfaces.SentinelUnset:
			state = "unset"
		}
		st.Secrets = append(st.Secrets, SecretStatus{
			Name:   name.String(),
			EnvKey: name.EnvKey(),
			State:  state,
		})
	}

	status, err := p.Cloud.InstanceStatus(ctx, m.Zone, m.Name)
	if err != nil {
		return nil, fmt.Errorf("reading instance status: %w", err)
	}
	if status == "" {
		st.InstanceStatus = "ABSENT"
		return st, nil
	}
	st.InstanceStatus = status

	ready, err := p.Cloud.GuestAttribute(ctx, m.Zone, m.Name,
		ReadyAttributeNamespace, ReadyAttributeKey)
	if err != nil {
		return nil, fmt.Errorf("reading readiness attribute: %w", err)
	}
	st.GatewayReady = ready
	return st, nil
}
