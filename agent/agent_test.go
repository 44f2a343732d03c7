package agent

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/secrets"
)

type fakePublisher struct {
	onGCE     bool
	published map[string]string
}

func (p *fakePublisher) OnGCE() bool { return p.onGCE }

func (p *fakePublisher) Publish(ctx context.Context, namespace, key, value string) error {
	if p.published == nil {
		p.published = map[string]string{}
	}
	p.published[namespace+"/"+key] = value
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAgent(t *testing.T, store interfaces.SecretStore, mgr UnitManager, pub Publisher, artifactURL, artifactSHA string) *Agent {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		ArtifactURL:     artifactURL,
		ArtifactSHA256:  artifactSHA,
		GatewayPort:     8443,
		BinaryPath:      filepath.Join(dir, "bin", "gateway"),
		EnvFile:         filepath.Join(dir, "gateway.env"),
		UnitPath:        filepath.Join(dir, GatewayUnit),
		AllowDisk:       true,
		SkipNetworkWait: true,
	}, store, mgr, pub, discardLogger())
}

func fileStoreWith(t *testing.T, values map[string]string) *secrets.FileStore {
	t.Helper()
	store, err := secrets.NewFileStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, store.Put(context.Background(), interfaces.SecretName(k), []byte(v)))
	}
	return store
}

func TestEnsure(t *testing.T) {
	payload := []byte("gateway v1")
	artifactSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer artifactSrv.Close()

	store := fileStoreWith(t, map[string]string{
		"db-password": "hunter2",
		"unset-one":   interfaces.SentinelUnset,
	})
	mgr := &fakeUnitManager{}
	pub := &fakePublisher{onGCE: true}
	a := testAgent(t, store, mgr, pub, artifactSrv.URL, sha256Hex(payload))

	require.NoError(t, a.Ensure(context.Background()))

	// Binary installed.
	got, err := os.ReadFile(a.cfg.BinaryPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Secrets materialized, sentinel dropped.
	env, err := os.ReadFile(a.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(env), `DB_PASSWORD="hunter2"`)
	assert.NotContains(t, string(env), "UNSET_ONE")

	// Unit applied and restarted, readiness published.
	assert.Equal(t, 1, mgr.reloads)
	assert.Equal(t, []string{GatewayUnit}, mgr.restarted)
	assert.NotEmpty(t, pub.published["iapgw/ready"])

	st := a.Status()
	assert.Equal(t, 1, st.SecretCount)
	assert.Equal(t, 1, st.SkippedSecrets)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastRun.IsZero())
}

func TestEnsure_SecondRunIsRepairOnly(t *testing.T) {
	payload := []byte("gateway v1")
	artifactSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer artifactSrv.Close()

	store := fileStoreWith(t, map[string]string{"db-password": "hunter2"})
	mgr := &fakeUnitManager{}
	a := testAgent(t, store, mgr, &fakePublisher{onGCE: true}, artifactSrv.URL, sha256Hex(payload))

	require.NoError(t, a.Ensure(context.Background()))
	require.NoError(t, a.Ensure(context.Background()))

	// No second daemon-reload: binary, env file and unit were all current.
	assert.Equal(t, 1, mgr.reloads)
	// The unit is still restarted each boot.
	assert.Equal(t, []string{GatewayUnit, GatewayUnit}, mgr.restarted)
}

func TestRefresh(t *testing.T) {
	store := fileStoreWith(t, map[string]string{"db-password": "hunter2"})
	mgr := &fakeUnitManager{}
	a := testAgent(t, store, mgr, &fakePublisher{}, "file:///unused", "unused")

	// Seed the env file via an initial materialization.
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, []string{GatewayUnit}, mgr.restarted)

	// Unchanged secrets: no restart.
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, []string{GatewayUnit}, mgr.restarted)

	// Rotated secret: env rewritten, unit restarted.
	require.NoError(t, store.Put(context.Background(), interfaces.SecretName("db-password"), []byte("rotated")))
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, []string{GatewayUnit, GatewayUnit}, mgr.restarted)

	env, err := os.ReadFile(a.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(env), `DB_PASSWORD="rotated"`)
}

func TestEnsure_OffGCESkipsPublish(t *testing.T) {
	payload := []byte("gateway v1")
	src := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(src, payload, 0644))

	store := fileStoreWith(t, map[string]string{"db-password": "hunter2"})
	pub := &fakePublisher{onGCE: false}
	a := testAgent(t, store, &fakeUnitManager{}, pub, "file://"+src, sha256Hex(payload))

	require.NoError(t, a.Ensure(context.Background()))
	assert.Empty(t, pub.published)
}
