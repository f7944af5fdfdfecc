package buildstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	jsonv2 "github.com/go-json-experiment/json"
	"hashdist.dev/hashdist/internal/jobrunner"
	"hashdist.dev/hashdist/internal/sourcecache"
	"hashdist.dev/hashdist/internal/spec"
	"hashdist.dev/hashdist/internal/storelock"
	"zombiezen.com/go/log"
)

// Build canonicalizes b against imports, and either returns an
// existing matching artifact or stages, executes, and atomically
// commits a new one. imports must already be resolved to concrete
// artifact directories (see [jobrunner.ResolvedImport]); this store
// never recurses to build an import's own dependencies.
func (s *Store) Build(ctx context.Context, b *spec.BuildSpec, imports []jobrunner.ResolvedImport, sc *sourcecache.Cache) (Resolved, error) {
	hashInputs := make(map[string]string, len(imports))
	for _, im := range imports {
		hashInputs[im.Ref] = im.Declared
	}
	id, err := spec.Canonicalize(b, hashInputs)
	if err != nil {
		return Resolved{}, err
	}

	if r, ok, err := s.Resolve(id); err != nil {
		return Resolved{}, err
	} else if ok {
		return r, nil
	}

	unlock, err := s.locks.Lock(ctx, id.Hash)
	if err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}
	defer unlock()

	// Re-check now that we hold the lock: another goroutine in this
	// process may have just finished building the same spec.
	if r, ok, err := s.Resolve(id); err != nil {
		return Resolved{}, err
	} else if ok {
		return r, nil
	}

	storeLock, err := storelock.Open(s.root)
	if err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}
	defer storeLock.Close()
	if err := storeLock.SharedLock(); err != nil {
		return Resolved{}, fmt.Errorf("build %s: acquire shared store lock: %w", id, err)
	}
	defer storeLock.Unlock()

	log.Infof(ctx, "building %s", id)
	return s.build(ctx, id, b, imports, sc)
}

func (s *Store) build(ctx context.Context, id spec.ArtifactID, b *spec.BuildSpec, imports []jobrunner.ResolvedImport, sc *sourcecache.Cache) (Resolved, error) {
	stagingRoot, err := s.newStagingDir(id.Name, id.Version)
	if err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}
	buildDir := filepath.Join(stagingRoot, "build")
	artifactDir := filepath.Join(stagingRoot, "artifact")
	if err := os.MkdirAll(buildDir, 0o777); err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}
	if err := os.MkdirAll(artifactDir, 0o777); err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}

	if err := writeBuildSpec(artifactDir, b); err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}

	for _, src := range b.Sources {
		target := filepath.Join(buildDir, src.Target)
		key := sourcecache.Key(src.Key)
		if !key.Valid() {
			return Resolved{}, fmt.Errorf("build %s: invalid source key %q", id, src.Key)
		}
		if err := sc.Unpack(ctx, key, target, src.Strip); err != nil {
			return Resolved{}, fmt.Errorf("build %s: unpack %s: %w", id, src.Key, err)
		}
	}

	env, err := jobrunner.BuildEnv(imports, buildDir, artifactDir)
	if err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}

	logPath := filepath.Join(buildDir, "build.log")
	if err := jobrunner.Run(ctx, b.Build, env, buildDir, logPath); err != nil {
		// Staging is left in place deliberately so the failure can be
		// inspected; the caller sees the log's location in err.
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}

	if err := writeArtifactMeta(artifactDir, b, imports); err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}
	if err := compressBuildLog(logPath, filepath.Join(artifactDir, "build.log.gz")); err != nil {
		return Resolved{}, fmt.Errorf("build %s: %w", id, err)
	}

	return s.commit(id, artifactDir, stagingRoot)
}

// newStagingDir creates a uniquely named directory under bld/, using
// an incrementing counter suffix to avoid collisions between
// concurrent builders racing to stage the same spec.
func (s *Store) newStagingDir(name, version string) (string, error) {
	base := s.bldDir(name, version)
	if err := os.MkdirAll(base, 0o777); err != nil {
		return "", err
	}
	for {
		n := s.counters.Add(1)
		dir := filepath.Join(base, fmt.Sprintf("staging-%d-%d", os.Getpid(), n))
		if err := os.Mkdir(dir, 0o777); err == nil {
			return dir, nil
		} else if !os.IsExist(err) {
			return "", err
		}
	}
}

// commit lengthens id's short-hash prefix until a non-colliding
// directory name is found, then atomically renames artifactDir into
// place and creates the full-hash symlink sibling.
func (s *Store) commit(id spec.ArtifactID, artifactDir, stagingRoot string) (Resolved, error) {
	defer os.RemoveAll(stagingRoot)

	if err := os.WriteFile(filepath.Join(artifactDir, fullHashMarker), []byte(id.Hash), 0o666); err != nil {
		return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
	}

	short, alreadyBuilt, err := s.shortenArtifactID(id.Name, id.Version, id.Hash)
	if err != nil {
		return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
	}
	if alreadyBuilt {
		// A concurrent builder in another process committed first;
		// our own staged result is discarded since content is
		// deterministic for a given canonical spec.
		r, ok, err := s.Resolve(id)
		if err != nil {
			return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
		}
		if !ok {
			return Resolved{}, fmt.Errorf("commit %s: resolve after concurrent commit: not found", id)
		}
		return r, nil
	}

	optDir := s.optDir(id.Name, id.Version)
	if err := os.MkdirAll(optDir, 0o777); err != nil {
		return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
	}
	finalDir := filepath.Join(optDir, short)
	if err := os.Rename(artifactDir, finalDir); err != nil {
		return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
	}
	if err := os.Symlink(short, filepath.Join(optDir, id.Hash)); err != nil && !os.IsExist(err) {
		return Resolved{}, fmt.Errorf("commit %s: %w", id, err)
	}

	return Resolved{Dir: finalDir, Full: id}, nil
}

func writeBuildSpec(artifactDir string, b *spec.BuildSpec) error {
	data, err := jsonv2.Marshal(b)
	if err != nil {
		return fmt.Errorf("write build.json: %w", err)
	}
	return os.WriteFile(filepath.Join(artifactDir, "build.json"), data, 0o666)
}

func writeArtifactMeta(artifactDir string, b *spec.BuildSpec, imports []jobrunner.ResolvedImport) error {
	runtimeDeps := make([]string, 0, len(imports))
	for _, im := range imports {
		runtimeDeps = append(runtimeDeps, im.ID)
	}
	meta := spec.ArtifactMeta{
		Install:             b.ProfileInstall,
		RuntimeDependencies: runtimeDeps,
	}
	if b.ProfileInstall != nil {
		meta.ProfileEnvVars = b.ProfileInstall.Parameters.EnvVars
	}
	data, err := jsonv2.Marshal(meta)
	if err != nil {
		return fmt.Errorf("write artifact.json: %w", err)
	}
	return os.WriteFile(filepath.Join(artifactDir, "artifact.json"), data, 0o666)
}

func compressBuildLog(logPath, dst string) error {
	raw, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Errorf("compress build log: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("compress build log: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress build log: %w", err)
	}
	return os.WriteFile(dst, buf.Bytes(), 0o666)
}
