package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlabs/iapgw/gcp"
	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/manifest"
)

type MockCloudAPI struct {
	mock.Mock
}

func (m *MockCloudAPI) TestPermissions(ctx context.Context, perms []string) ([]string, error) {
	args := m.Called(ctx, perms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCloudAPI) EnsureServiceEnabled(ctx context.Context, service string) (bool, error) {
	args := m.Called(ctx, service)
	return args.Bool(0), args.Error(1)
}

func (m *MockCloudAPI) EnsureFirewall(ctx context.Context, rule gcp.FirewallRule) (bool, error) {
	args := m.Called(ctx, rule)
	return args.Bool(0), args.Error(1)
}

func (m *MockCloudAPI) EnsureNAT(ctx context.Context, cfg gcp.NATConfig) (bool, error) {
	args := m.Called(ctx, cfg)
	return args.Bool(0), args.Error(1)
}

func (m *MockCloudAPI) EnsureInstance(ctx context.Context, spec gcp.InstanceSpec) (bool, error) {
	args := m.Called(ctx, spec)
	return args.Bool(0), args.Error(1)
}

func (m *MockCloudAPI) EnsureBinding(ctx context.Context, role, member string) (bool, error) {
	args := m.Called(ctx, role, member)
	return args.Bool(0), args.Error(1)
}

func (m *MockCloudAPI) InstanceStatus(ctx context.Context, zone, name string) (string, error) {
	args := m.Called(ctx, zone, name)
	return args.String(0), args.Error(1)
}

func (m *MockCloudAPI) GuestAttribute(ctx context.Context, zone, name, namespace, key string) (string, error) {
	args := m.Called(ctx, zone, name, namespace, key)
	return args.String(0), args.Error(1)
}

func (m *MockCloudAPI) DeleteInstance(ctx context.Context, zone, name string) error {
	return m.Called(ctx, zone, name).Error(0)
}

func (m *MockCloudAPI) DeleteFirewall(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockCloudAPI) DeleteRouter(ctx context.Context, region, name string) error {
	return m.Called(ctx, region, name).Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context) ([]interfaces.SecretName, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.SecretName), args.Error(1)
}

func (m *MockStore) Fetch(ctx context.Context, name interfaces.SecretName) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, name interfaces.SecretName, value []byte) error {
	return m.Called(ctx, name, value).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, name interfaces.SecretName) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockStore) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockStore) Name() string { return "mock-store" }

func (m *MockStore) LocationURI() string { return "mock:" }

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{
		Project: "proj-1",
		Zone:    "us-central1-a",
		Name:    "edge",
		Secrets: []string{"db-password", "api-key"},
		IAPMembers: []string{
			"user:alice@example.com",
			"group:ops@example.com",
		},
		ServiceAccount: "gw@proj-1.iam.gserviceaccount.com",
		Gateway: manifest.Gateway{
			ArtifactURL:    "https://releases.example.com/gateway",
			ArtifactSHA256: "abc123",
		},
	}
	require.NoError(t, m.Finalize())
	return m
}

func testProvisioner(m *manifest.Manifest, cloud *MockCloudAPI, store *MockStore) *Provisioner {
	return &Provisioner{
		Manifest: m,
		Cloud:    cloud,
		Store:    store,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestProvision_FullPipeline(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	store := &MockStore{}
	p := testProvisioner(m, cloud, store)
	p.HealthTimeout = time.Second
	p.PollInterval = time.Millisecond

	cloud.On("TestPermissions", mock.Anything, requiredPermissions).Return([]string{}, nil)
	for _, svc := range gcp.RequiredServices {
		cloud.On("EnsureServiceEnabled", mock.Anything, svc).Return(true, nil)
	}

	// db-password exists, api-key gets seeded.
	store.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).Return([]byte("v"), nil)
	store.On("Fetch", mock.Anything, interfaces.SecretName("api-key")).Return(nil, interfaces.ErrSecretNotFound)
	store.On("Put", mock.Anything, interfaces.SecretName("api-key"), []byte(interfaces.SentinelUnset)).Return(nil)

	cloud.On("EnsureFirewall", mock.Anything, mock.MatchedBy(func(r gcp.FirewallRule) bool {
		return r.Name == "edge-allow-iap" && r.TargetTag == "edge-gw" &&
			assert.ObjectsAreEqual([]string{"22", "8443"}, r.Ports)
	})).Return(true, nil)

	cloud.On("EnsureNAT", mock.Anything, gcp.NATConfig{
		RouterName: "edge-router",
		NATName:    "edge-nat",
		Region:     "us-central1",
		Network:    "default",
	}).Return(true, nil)

	cloud.On("EnsureInstance", mock.Anything, mock.MatchedBy(func(s gcp.InstanceSpec) bool {
		return s.Name == "edge" && s.Zone == "us-central1-a" &&
			s.Tag == "edge-gw" && s.StartupScript != "" &&
			s.Labels["iapgw-deployment"] == "edge"
	})).Return(true, nil)

	cloud.On("EnsureBinding", mock.Anything, gcp.RoleTunnelAccessor, "user:alice@example.com").Return(true, nil)
	cloud.On("EnsureBinding", mock.Anything, gcp.RoleTunnelAccessor, "group:ops@example.com").Return(true, nil)
	saMember := "serviceAccount:gw@proj-1.iam.gserviceaccount.com"
	cloud.On("EnsureBinding", mock.Anything, gcp.RoleSecretAccessor, saMember).Return(true, nil)
	cloud.On("EnsureBinding", mock.Anything, gcp.RoleLogWriter, saMember).Return(true, nil)
	cloud.On("EnsureBinding", mock.Anything, gcp.RoleMetricWriter, saMember).Return(true, nil)

	cloud.On("InstanceStatus", mock.Anything, "us-central1-a", "edge").Return(gcp.StatusRunning, nil)
	cloud.On("GuestAttribute", mock.Anything, "us-central1-a", "edge",
		ReadyAttributeNamespace, ReadyAttributeKey).Return("2026-08-31T10:00:00Z", nil)

	require.NoError(t, p.Provision(context.Background()))
	cloud.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestProvision_PreflightBlocks(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	p := testProvisioner(m, cloud, &MockStore{})

	cloud.On("TestPermissions", mock.Anything, mock.Anything).
		Return([]string{"compute.instances.create"}, nil)

	err := p.Provision(context.Background())
	require.Error(t, err)

	var missing *MissingPermissionsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"compute.instances.create"}, missing.Missing)
	assert.Contains(t, missing.Error(), "gcloud projects add-iam-policy-binding proj-1")
	cloud.AssertNotCalled(t, "EnsureServiceEnabled", mock.Anything, mock.Anything)
}

func TestProvision_SeedFailureAborts(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	store := &MockStore{}
	p := testProvisioner(m, cloud, store)

	cloud.On("TestPermissions", mock.Anything, mock.Anything).Return([]string{}, nil)
	for _, svc := range gcp.RequiredServices {
		cloud.On("EnsureServiceEnabled", mock.Anything, svc).Return(false, nil)
	}
	store.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).
		Return(nil, errors.New("store down"))

	err := p.Provision(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed-secrets")
	cloud.AssertNotCalled(t, "EnsureFirewall", mock.Anything, mock.Anything)
}

func TestProvision_HealthTimesOut(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	store := &MockStore{}
	p := testProvisioner(m, cloud, store)
	p.HealthTimeout = 20 * time.Millisecond
	p.PollInterval = 5 * time.Millisecond

	cloud.On("TestPermissions", mock.Anything, mock.Anything).Return([]string{}, nil)
	cloud.On("EnsureServiceEnabled", mock.Anything, mock.Anything).Return(false, nil)
	store.On("Fetch", mock.Anything, mock.Anything).Return([]byte("v"), nil)
	cloud.On("EnsureFirewall", mock.Anything, mock.Anything).Return(false, nil)
	cloud.On("EnsureNAT", mock.Anything, mock.Anything).Return(false, nil)
	cloud.On("EnsureInstance", mock.Anything, mock.Anything).Return(false, nil)
	cloud.On("EnsureBinding", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	// Instance runs but the agent never reports ready.
	cloud.On("InstanceStatus", mock.Anything, "us-central1-a", "edge").Return(gcp.StatusRunning, nil)
	cloud.On("GuestAttribute", mock.Anything, "us-central1-a", "edge",
		ReadyAttributeNamespace, ReadyAttributeKey).Return("", nil)

	err := p.Provision(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
}

func TestTeardown(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	store := &MockStore{}
	p := testProvisioner(m, cloud, store)

	cloud.On("DeleteInstance", mock.Anything, "us-central1-a", "edge").Return(nil)
	cloud.On("DeleteFirewall", mock.Anything, "edge-allow-iap").Return(nil)
	cloud.On("DeleteRouter", mock.Anything, "us-central1", "edge-router").Return(nil)

	require.NoError(t, p.Teardown(context.Background(), TeardownOpts{}))
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	cloud.AssertExpectations(t)
}

func TestTeardown_PurgeSecrets(t *testing.T) {
	m := testManifest(t)
	cloud := &MockCloudAPI{}
	store := &MockStore{}
	p := testProvisioner(m, cloud, store)

	cloud.On("DeleteInstance", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cloud.On("DeleteFirewall", mock.Anything, mock.Anything).Return(nil)
	cloud.On("DeleteRouter", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Delete", mock.Anything, interfaces.SecretName("db-password")).Return(nil)
	store.On("Delete", mock.Anything, interfaces.SecretName("api-key")).Return(nil)

	require.NoError(t, p.Teardown(context.Background(), TeardownOpts{PurgeSecrets: true}))
	store.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	m := testManifest(t)

	t.Run("running and ready", func(t *testing.T) {
		cloud := &MockCloudAPI{}
		store := &MockStore{}
		p := testProvisioner(m, cloud, store)

		store.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).Return([]byte("hunter2"), nil)
		store.On("Fetch", mock.Anything, interfaces.SecretName("api-key")).Return([]byte(interfaces.SentinelUnset), nil)
		cloud.On("InstanceStatus", mock.Anything, "us-central1-a", "edge").Return(gcp.StatusRunning, nil)
		cloud.On("GuestAttribute", mock.Anything, "us-central1-a", "edge",
			ReadyAttributeNamespace, ReadyAttributeKey).Return("2026-08-31T10:00:00Z", nil)

		st, err := p.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, gcp.StatusRunning, st.InstanceStatus)
		assert.Equal(t, "2026-08-31T10:00:00Z", st.GatewayReady)
		assert.Contains(t, st.TunnelCommand, "start-iap-tunnel edge 8443")
		assert.Equal(t, []SecretStatus{
			{Name: "db-password", EnvKey: "DB_PASSWORD", State: "set"},
			{Name: "api-key", EnvKey: "API_KEY", State: "unset"},
		}, st.Secrets)
	})

	t.Run("absent instance", func(t *testing.T) {
		cloud := &MockCloudAPI{}
		store := &MockStore{}
		p := testProvisioner(m, cloud, store)

		store.On("Fetch", mock.Anything, mock.Anything).Return(nil, interfaces.ErrSecretNotFound)
		cloud.On("InstanceStatus", mock.Anything, "us-central1-a", "edge").Return("", nil)

		st, err := p.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ABSENT", st.InstanceStatus)
		assert.Empty(t, st.GatewayReady)
		assert.Equal(t, "error", st.Secrets[0].State)
		cloud.AssertNotCalled(t, "GuestAttribute",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
