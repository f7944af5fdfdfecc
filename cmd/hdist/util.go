package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"hashdist.dev/hashdist/internal/jobrunner"
	"hashdist.dev/hashdist/internal/spec"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func cut(s string, sep byte) (before, after string, found bool) {
	return strings.Cut(s, string(sep))
}

// artifactIDFromDir derives an ArtifactID string from a resolved
// artifact directory's path, which always has the shape
// opt/<name>/<version>/<hash>.
func artifactIDFromDir(dir string) (string, error) {
	hash := filepath.Base(dir)
	version := filepath.Base(filepath.Dir(dir))
	name := filepath.Base(filepath.Dir(filepath.Dir(dir)))
	id := spec.ArtifactID{Name: name, Version: version, Hash: hash}
	if _, err := spec.ParseArtifactID(id.String()); err != nil {
		return "", fmt.Errorf("derive artifact id from %s: %w", dir, err)
	}
	return id.String(), nil
}

// selfHitImport resolves a "hit" import pointing at the running
// hdist binary's own directory, for commands whose synthesized build
// specs invoke "${hit}/hdist" as an internal subcommand. The artifact
// ID is pinned to a digest of the binary so that a profile's hash
// changes whenever the hdist binary that assembled it does.
func selfHitImport() (jobrunner.ResolvedImport, error) {
	exe, err := os.Executable()
	if err != nil {
		return jobrunner.ResolvedImport{}, fmt.Errorf("resolve hit import: %w", err)
	}
	f, err := os.Open(exe)
	if err != nil {
		return jobrunner.ResolvedImport{}, fmt.Errorf("resolve hit import: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return jobrunner.ResolvedImport{}, fmt.Errorf("resolve hit import: %w", err)
	}
	id := spec.ArtifactID{Name: "hdist", Version: "self", Hash: hex.EncodeToString(h.Sum(nil))}.String()
	return jobrunner.ResolvedImport{
		Ref:      "hit",
		Declared: id,
		ID:       id,
		Dir:      filepath.Dir(exe),
		InEnv:    false,
	}, nil
}
