// Package hdconfig loads hdist's YAML configuration file, merging it
// over built-in defaults the way cmd/hdist's predecessor merges
// environment variables and then JSON config files: defaults first,
// then each layer overrides only the fields it sets.
package hdconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root of config.yaml.
type Config struct {
	// BuildStores lists candidate build store roots in preference
	// order; the first one writable by the current user is used.
	BuildStores []string `yaml:"build_stores"`
	// SourceCaches lists candidate source cache roots, same
	// first-writable-wins rule as BuildStores.
	SourceCaches []string `yaml:"source_caches"`
	// GCRoots is the directory holding named GC root symlinks.
	GCRoots string `yaml:"gc_roots"`
	// Cache is the directory for transient, freely-reclaimable state
	// (e.g. the git object pool).
	Cache string `yaml:"cache"`
}

// Default returns the built-in configuration used when no file is
// found and no environment override applies.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".hashdist")
	return &Config{
		BuildStores:  []string{filepath.Join(base, "store")},
		SourceCaches: []string{filepath.Join(base, "sources")},
		GCRoots:      filepath.Join(base, "gcroots"),
		Cache:        filepath.Join(base, "cache"),
	}
}

// Load reads path (if it exists) and merges its fields over Default,
// rejecting any YAML key that does not match a known field.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns $HDIST_CONFIG if it is set and otherwise
// ~/.hashdist/config.yaml: the path cmd/hdist consults when no
// --config flag is given.
func DefaultPath() string {
	if p := os.Getenv("HDIST_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".hashdist", "config.yaml")
}

// FirstWritable returns the first path in paths whose parent
// directory exists or can be created, creating path itself if it is
// missing. Used to resolve BuildStores/SourceCaches to a single root.
func FirstWritable(paths []string) (string, error) {
	var lastErr error
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o777); err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate paths given")
	}
	return "", fmt.Errorf("no writable path found: %w", lastErr)
}
