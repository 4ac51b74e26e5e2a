//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// secretsFile stands in for a system keychain: service -> account -> value,
// stored next to the data directory with owner-only permissions.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "bizchat", "secrets.json")
}

func keychainGet(service, account string) ([]byte, error) {
	f := secretsFile{}
	if err := readJSONFile(secretsFilePath(), &f); err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	v, ok := f[service][account]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s not found", service, account)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	f := secretsFile{}
	if err := readJSONFile(path, &f); err != nil {
		return fmt.Errorf("reading secrets file: %w", err)
	}
	if f[service] == nil {
		f[service] = map[string]string{}
	}
	f[service][account] = value
	return writeJSONFile(path, f)
}
