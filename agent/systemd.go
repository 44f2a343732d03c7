package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
)

// GatewayUnit is the systemd unit the agent manages.
const GatewayUnit = "iapgw-gateway.service"

// UnitParams parameterizes the gateway's systemd unit.
type UnitParams struct {
	BinaryPath string
	EnvFile    string
	Port       int
	ExtraArgs  []string
}

// RenderUnit produces the gateway unit file contents.
func RenderUnit(p UnitParams) string {
	execStart := fmt.Sprintf("%s --port %d", p.BinaryPath, p.Port)
	if len(p.ExtraArgs) > 0 {
		execStart += " " + strings.Join(p.ExtraArgs, " ")
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "iapgw managed gateway"),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "EnvironmentFile", p.EnvFile),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Service", "NoNewPrivileges", "true"),
		unit.NewUnitOption("Service", "ProtectSystem", "strict"),
		unit.NewUnitOption("Service", "PrivateTmp", "true"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}

	data, _ := io.ReadAll(unit.Serialize(opts))
	return string(data)
}

// UnitManager is the slice of the systemd D-Bus API the agent uses.
// Implemented by *dbus.Conn; tests substitute a fake.
type UnitManager interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []dbus.EnableUnitFileChange, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
}

// ConnectSystemd opens the system D-Bus connection.
func ConnectSystemd(ctx context.Context) (*dbus.Conn, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	return conn, nil
}

// ApplyUnit writes the unit file if its content changed, then reloads,
// enables and restarts the unit. Returns whether the file was rewritten.
func ApplyUnit(ctx context.Context, mgr UnitManager, unitPath, content string) (bool, error) {
	existing, err := os.ReadFile(unitPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading unit file: %w", err)
	}

	changed := !bytes.Equal(existing, []byte(content))
	if changed {
		if err := os.WriteFile(unitPath, []byte(content), 0644); err != nil {
			return false, fmt.Errorf("writing unit file: %w", err)
		}
		if err := mgr.ReloadContext(ctx); err != nil {
			return changed, fmt.Errorf("systemd daemon-reload: %w", err)
		}
	}

	if _, _, err := mgr.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return changed, fmt.Errorf("enabling %s: %w", GatewayUnit, err)
	}
	return changed, nil
}

// RestartUnit restarts the gateway unit and waits for the job to finish.
func RestartUnit(ctx context.Context, mgr UnitManager) error {
	done := make(chan string, 1)
	if _, err := mgr.RestartUnitContext(ctx, GatewayUnit, "replace", done); err != nil {
		return fmt.Errorf("restarting %s: %w", GatewayUnit, err)
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("restart of %s finished with %q", GatewayUnit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
