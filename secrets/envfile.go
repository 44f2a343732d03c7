package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// quoteEnvValue renders a value for an EnvironmentFile= consumer. Values are
// double quoted; embedded quotes, backslashes and newlines are escaped.
func quoteEnvValue(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
	)
	return `"` + r.Replace(v) + `"`
}

// BuildEnvFile renders entries as KEY="VALUE" lines in stable key order.
func BuildEnvFile(entries map[string]string) []byte {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteEnvValue(entries[k]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// IsTmpfs reports whether the filesystem holding path is tmpfs.
func IsTmpfs(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Type == unix.TMPFS_MAGIC, nil
}

// WriteEnvFile writes data to path atomically: a temp file in the same
// directory, fsynced, then renamed over the target. Unless allowDisk is set,
// the destination directory must live on tmpfs so secret material never
// reaches persistent storage.
func WriteEnvFile(path string, data []byte, allowDisk bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	if !allowDisk {
		tmpfs, err := IsTmpfs(dir)
		if err != nil {
			return err
		}
		if !tmpfs {
			return fmt.Errorf("refusing to write secrets to %s: not a tmpfs mount", dir)
		}
	}

	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing env file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing env file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
