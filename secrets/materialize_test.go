package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlabs/iapgw/interfaces"
)

// MockSecretStore implements interfaces.SecretStore for testing
type MockSecretStore struct {
	mock.Mock
	name string
}

func (m *MockSecretStore) List(ctx context.Context) ([]interfaces.SecretName, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.SecretName), args.Error(1)
}

func (m *MockSecretStore) Fetch(ctx context.Context, name interfaces.SecretName) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSecretStore) Put(ctx context.Context, name interfaces.SecretName, value []byte) error {
	args := m.Called(ctx, name, value)
	return args.Error(0)
}

func (m *MockSecretStore) Delete(ctx context.Context, name interfaces.SecretName) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockSecretStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockSecretStore) Name() string { return m.name }

func (m *MockSecretStore) LocationURI() string { return "mock:" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func secretNames(names ...string) []interfaces.SecretName {
	out := make([]interfaces.SecretName, 0, len(names))
	for _, n := range names {
		out = append(out, interfaces.SecretName(n))
	}
	return out
}

func TestMaterialize(t *testing.T) {
	testErr := errors.New("backend exploded")

	tests := []struct {
		name          string
		setupMock     func(*MockSecretStore)
		expected      map[string]string
		expectedError bool
	}{
		{
			name: "all secrets fetched",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames("db-password", "api-key"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).Return([]byte("hunter2"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("api-key")).Return([]byte("k-123"), nil)
			},
			expected: map[string]string{
				"DB_PASSWORD": "hunter2",
				"API_KEY":     "k-123",
			},
		},
		{
			name: "sentinel placeholders are dropped",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames("db-password", "unset-one"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).Return([]byte("hunter2"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("unset-one")).Return([]byte(interfaces.SentinelUnset), nil)
			},
			expected: map[string]string{
				"DB_PASSWORD": "hunter2",
			},
		},
		{
			name: "fetch failure is skipped",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames("db-password", "broken"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("db-password")).Return([]byte("hunter2"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("broken")).Return(nil, testErr)
			},
			expected: map[string]string{
				"DB_PASSWORD": "hunter2",
			},
		},
		{
			name: "all fetches failing is an error",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames("a", "b"), nil)
				m.On("Fetch", mock.Anything, mock.Anything).Return(nil, testErr)
			},
			expectedError: true,
		},
		{
			name: "empty store is fine",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames(), nil)
			},
			expected: map[string]string{},
		},
		{
			name: "list failure propagates",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(nil, testErr)
			},
			expectedError: true,
		},
		{
			name: "env key collision keeps first value",
			setupMock: func(m *MockSecretStore) {
				m.On("List", mock.Anything).Return(secretNames("api-key", "api_key"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("api-key")).Return([]byte("first"), nil)
				m.On("Fetch", mock.Anything, interfaces.SecretName("api_key")).Return([]byte("second"), nil)
			},
			expected: map[string]string{
				"API_KEY": "first",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockSecretStore{name: "mock-store"}
			tt.setupMock(store)

			entries, err := Materialize(context.Background(), store, discardLogger())

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, entries)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestMaterialize_ManySecrets(t *testing.T) {
	store := &MockSecretStore{name: "mock-store"}

	var names []interfaces.SecretName
	for i := 0; i < 50; i++ {
		n := interfaces.SecretName(fmt.Sprintf("secret-%02d", i))
		names = append(names, n)
		store.On("Fetch", mock.Anything, n).Return([]byte(fmt.Sprintf("v%d", i)), nil)
	}
	store.On("List", mock.Anything).Return(names, nil)

	entries, err := Materialize(context.Background(), store, discardLogger())
	require.NoError(t, err)
	assert.Len(t, entries, 50)
	assert.Equal(t, "v7", entries["SECRET_07"])
}
