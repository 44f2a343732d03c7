package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUnitManager struct {
	reloads       int
	enabled       [][]string
	restarted     []string
	restartResult string
	restartErr    error
}

func (f *fakeUnitManager) ReloadContext(ctx context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeUnitManager) EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []dbus.EnableUnitFileChange, error) {
	f.enabled = append(f.enabled, files)
	return true, nil, nil
}

func (f *fakeUnitManager) RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	if f.restartErr != nil {
		return 0, f.restartErr
	}
	f.restarted = append(f.restarted, name)
	result := f.restartResult
	if result == "" {
		result = "done"
	}
	go func() { ch <- result }()
	return 1, nil
}

func TestRenderUnit(t *testing.T) {
	content := RenderUnit(UnitParams{
		BinaryPath: "/opt/iapgw/bin/gateway",
		EnvFile:    "/run/iapgw/gateway.env",
		Port:       8443,
		ExtraArgs:  []string{"--verbose"},
	})

	assert.Contains(t, content, "ExecStart=/opt/iapgw/bin/gateway --port 8443 --verbose")
	assert.Contains(t, content, "EnvironmentFile=/run/iapgw/gateway.env")
	assert.Contains(t, content, "Restart=always")
	assert.Contains(t, content, "WantedBy=multi-user.target")
	assert.Contains(t, content, "ProtectSystem=strict")
}

func TestApplyUnit(t *testing.T) {
	unitPath := filepath.Join(t.TempDir(), GatewayUnit)
	mgr := &fakeUnitManager{}
	content := RenderUnit(UnitParams{BinaryPath: "/opt/iapgw/bin/gateway", EnvFile: "/run/iapgw/gateway.env", Port: 8443})

	changed, err := ApplyUnit(context.Background(), mgr, unitPath, content)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, mgr.reloads)
	require.Len(t, mgr.enabled, 1)
	assert.Equal(t, []string{unitPath}, mgr.enabled[0])

	written, err := os.ReadFile(unitPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(written))

	// Unchanged content skips the write and the reload.
	changed, err = ApplyUnit(context.Background(), mgr, unitPath, content)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, mgr.reloads)
}

func TestRestartUnit(t *testing.T) {
	mgr := &fakeUnitManager{}
	require.NoError(t, RestartUnit(context.Background(), mgr))
	assert.Equal(t, []string{GatewayUnit}, mgr.restarted)
}

func TestRestartUnit_JobFailed(t *testing.T) {
	mgr := &fakeUnitManager{restartResult: "failed"}
	err := RestartUnit(context.Background(), mgr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `finished with "failed"`)
}
