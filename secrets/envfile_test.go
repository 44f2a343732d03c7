package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEnvFile(t *testing.T) {
	tests := []struct {
		name     string
		entries  map[string]string
		expected string
	}{
		{
			name:     "empty",
			entries:  map[string]string{},
			expected: "",
		},
		{
			name: "sorted by key",
			entries: map[string]string{
				"ZED":   "last",
				"ALPHA": "first",
			},
			expected: "ALPHA=\"first\"\nZED=\"last\"\n",
		},
		{
			name: "quotes and newlines escaped",
			entries: map[string]string{
				"TOKEN": "a\"b\\c\nd",
			},
			expected: "TOKEN=\"a\\\"b\\\\c\\nd\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(BuildEnvFile(tt.entries)))
		})
	}
}

func TestWriteEnvFile_AllowDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.env")

	require.NoError(t, WriteEnvFile(path, []byte("A=\"1\"\n"), true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A=\"1\"\n", string(data))

	// Overwrite replaces content atomically; no temp files left behind.
	require.NoError(t, WriteEnvFile(path, []byte("A=\"2\"\n"), true))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A=\"2\"\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteEnvFile_RejectsDiskByDefault(t *testing.T) {
	dir := t.TempDir()
	tmpfs, err := IsTmpfs(dir)
	require.NoError(t, err)
	if tmpfs {
		t.Skip("temp dir is tmpfs on this machine")
	}

	err = WriteEnvFile(filepath.Join(dir, "gateway.env"), []byte("A=\"1\"\n"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a tmpfs")
}

func TestWriteEnvFile_AcceptsTmpfs(t *testing.T) {
	tmpfs, err := IsTmpfs("/dev/shm")
	if err != nil || !tmpfs {
		t.Skip("/dev/shm not available")
	}

	dir, err := os.MkdirTemp("/dev/shm", "iapgw-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "gateway.env")
	require.NoError(t, WriteEnvFile(path, []byte("A=\"1\"\n"), false))
}
