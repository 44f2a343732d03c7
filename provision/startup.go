package provision

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/perimeterlabs/iapgw/manifest"
)

// startupScript runs as root on every boot. It installs the boot agent if
// the manifest pins one, then hands off. The agent does everything else:
// artifact download, secret materialization, systemd unit management.
var startupScript = template.Must(template.New("startup").Parse(`#!/bin/bash
set -euo pipefail

AGENT=/opt/iapgw/bin/iapgw-agent
{{if .AgentURL}}
if [ ! -x "$AGENT" ]; then
  mkdir -p "$(dirname "$AGENT")"
  curl -fsSL -o "$AGENT.tmp" '{{.AgentURL}}'
  echo '{{.AgentSHA256}}  '"$AGENT.tmp" | sha256sum -c -
  chmod 0755 "$AGENT.tmp"
  mv "$AGENT.tmp" "$AGENT"
fi
{{end}}
exec "$AGENT" ensure \
  --secret-store '{{.SecretStore}}' \
  --artifact-url '{{.ArtifactURL}}' \
  --artifact-sha256 '{{.ArtifactSHA256}}' \
  --gateway-port {{.GatewayPort}}{{range .ExtraArgs}} \
  --gateway-arg '{{.}}'{{end}}
`))

type startupParams struct {
	AgentURL       string
	AgentSHA256    string
	SecretStore    string
	ArtifactURL    string
	ArtifactSHA256 string
	GatewayPort    int
	ExtraArgs      []string
}

// RenderStartupScript produces the VM's startup-script metadata value.
func RenderStartupScript(m *manifest.Manifest) (string, error) {
	params := startupParams{
		AgentURL:       m.Agent.ArtifactURL,
		AgentSHA256:    m.Agent.ArtifactSHA256,
		SecretStore:    m.SecretStore,
		ArtifactURL:    m.Gateway.ArtifactURL,
		ArtifactSHA256: m.Gateway.ArtifactSHA256,
		GatewayPort:    m.Gateway.Port,
		ExtraArgs:      m.Gateway.ExtraArgs,
	}

	for _, v := range append([]string{params.SecretStore, params.ArtifactURL, params.AgentURL}, params.ExtraArgs...) {
		if strings.ContainsAny(v, "'\n") {
			return "", fmt.Errorf("manifest value %q cannot be quoted for the startup script", v)
		}
	}

	var buf bytes.Buffer
	if err := startupScript.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("rendering startup script: %w", err)
	}
	return buf.String(), nil
}
