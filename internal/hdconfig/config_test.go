package hdconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "build_stores:\n  - /srv/hashdist/store\ncache: /srv/hashdist/cache\n"
	if err := os.WriteFile(path, []byte(contents), 0o666); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.BuildStores) != 1 || cfg.BuildStores[0] != "/srv/hashdist/store" {
		t.Errorf("BuildStores = %v, want [/srv/hashdist/store]", cfg.BuildStores)
	}
	if cfg.Cache != "/srv/hashdist/cache" {
		t.Errorf("Cache = %q, want /srv/hashdist/cache", cfg.Cache)
	}
	if len(cfg.SourceCaches) == 0 {
		t.Error("SourceCaches should still carry its default since the file didn't set it")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Cache != want.Cache {
		t.Errorf("Cache = %q, want default %q", cfg.Cache, want.Cache)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bogus_key: 1\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unknown config key")
	}
}
