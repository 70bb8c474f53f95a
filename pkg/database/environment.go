package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tailscale/hujson"

	"github.com/concourse-db/kernel/pkg/fs"
)

const environmentManifestFile = "manifest.hujson"

// EnvironmentManifest is the human-authored, comment-tolerant per-environment
// config file read from each environment's root directory (§4.11, §6).
type EnvironmentManifest struct {
	SchemaVersion  int `json:"schema_version"`
	ExpectedWrites int `json:"expected_writes,omitempty"`
}

func defaultEnvironmentManifest() EnvironmentManifest {
	return EnvironmentManifest{SchemaVersion: 1, ExpectedWrites: 1024}
}

// readEnvironmentManifest loads manifest.hujson from dir, tolerating
// comments and trailing commas (hujson), and returns the default manifest if
// the file does not exist yet.
func readEnvironmentManifest(fsys fs.FS, dir string) (EnvironmentManifest, error) {
	path := filepath.Join(dir, environmentManifestFile)

	exists, err := fsys.Exists(path)
	if err != nil {
		return EnvironmentManifest{}, fmt.Errorf("database: read environment manifest: %w", err)
	}
	if !exists {
		return defaultEnvironmentManifest(), nil
	}

	raw, err := fsys.ReadFile(path)
	if err != nil {
		return EnvironmentManifest{}, fmt.Errorf("database: read environment manifest: %w", err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return EnvironmentManifest{}, fmt.Errorf("database: parse environment manifest: %w", err)
	}

	var m EnvironmentManifest
	if err := json.Unmarshal(standardized, &m); err != nil {
		return EnvironmentManifest{}, fmt.Errorf("database: decode environment manifest: %w", err)
	}
	if m.SchemaVersion == 0 {
		m.SchemaVersion = 1
	}
	if m.ExpectedWrites == 0 {
		m.ExpectedWrites = 1024
	}
	return m, nil
}

// writeEnvironmentManifest persists m to dir/manifest.hujson atomically,
// through fsys so fault-injecting [fs.FS] implementations see the write
// (§4.10.4).
func writeEnvironmentManifest(fsys fs.FS, dir string, m EnvironmentManifest) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("database: encode environment manifest: %w", err)
	}
	path := filepath.Join(dir, environmentManifestFile)
	if err := fs.NewAtomicWriter(fsys).WriteWithDefaults(path, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("database: write environment manifest: %w", err)
	}
	return nil
}

// ListEnvironments discovers usable environment names by scanning both
// bufferRoot and dbRoot for subdirectories and returning the sorted
// intersection: an environment is usable only once both its buffer and its
// segment directory exist (§4.12, "an iterator over environments discovers
// them by scanning both roots"). fsys is typically fs.NewReal(); accepting
// it explicitly keeps this discoverable through the same fault-injectable
// seam as DB.Open (§4.10.4).
func ListEnvironments(fsys fs.FS, bufferRoot, dbRoot string) ([]string, error) {
	bufferNames, err := subdirNames(fsys, bufferRoot)
	if err != nil {
		return nil, fmt.Errorf("database: list environments: %w", err)
	}
	dbNames, err := subdirNames(fsys, dbRoot)
	if err != nil {
		return nil, fmt.Errorf("database: list environments: %w", err)
	}

	have := make(map[string]bool, len(dbNames))
	for _, name := range dbNames {
		have[name] = true
	}

	var out []string
	for _, name := range bufferNames {
		if have[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func subdirNames(fsys fs.FS, root string) ([]string, error) {
	entries, err := fsys.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
