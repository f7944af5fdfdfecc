package gc

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"hashdist.dev/hashdist/internal/sourcecache"
	"hashdist.dev/hashdist/internal/spec"
	"hashdist.dev/hashdist/internal/storelock"
	"hashdist.dev/hashdist/sets"
	"zombiezen.com/go/log"
)

// RetentionPolicy maps a source entry's retention tag to how long an
// otherwise-unreferenced entry survives collection.
type RetentionPolicy map[sourcecache.RetentionTag]Policy

// Policy is one tag's retention rule: either kept forever, or kept
// only while younger than MaxAge.
type Policy struct {
	Forever bool
	MaxAge  time.Duration
}

// DefaultPolicy retains archives, git checkouts and directories
// indefinitely (they are the expensive things to refetch), reclaims
// raw file entries after a week and transient entries after a day,
// matching the "forever, <duration>"
// vocabulary of the retention policy grammar.
func DefaultPolicy() RetentionPolicy {
	return RetentionPolicy{
		sourcecache.TagTarGz:     {Forever: true},
		sourcecache.TagGit:       {Forever: true},
		sourcecache.TagDir:       {Forever: true},
		sourcecache.TagFile:      {MaxAge: 7 * 24 * time.Hour},
		sourcecache.TagTransient: {MaxAge: 24 * time.Hour},
	}
}

// storeLayout is the subset of a build store's on-disk shape the
// collector needs, expressed independent of package buildstore to
// avoid a dependency cycle (buildstore never needs to know about GC).
type storeLayout struct {
	root string
}

func (s storeLayout) optRoot() string { return filepath.Join(s.root, "opt") }

// Report summarizes one collection pass.
type Report struct {
	KeptArtifacts    []string
	RemovedArtifacts []string
	KeptSources      []sourcecache.Key
	RemovedSources   []sourcecache.Key
}

// Collect walks every registered root's transitive closure and
// removes every store artifact and source-cache entry not reached,
// honoring policy for source retention. With dryRun set, nothing is
// removed; the Report still reflects what would happen.
func Collect(ctx context.Context, storeRoot string, roots *Roots, sc *sourcecache.Cache, policy RetentionPolicy, dryRun bool) (Report, error) {
	layout := storeLayout{root: storeRoot}

	lock, err := storelock.Open(storeRoot)
	if err != nil {
		return Report{}, fmt.Errorf("gc: %w", err)
	}
	defer lock.Close()
	if err := lock.ExclusiveLock(); err != nil {
		return Report{}, fmt.Errorf("gc: acquire exclusive store lock: %w", err)
	}
	defer lock.Unlock()

	rootDirs, err := roots.List()
	if err != nil {
		return Report{}, fmt.Errorf("gc: %w", err)
	}

	reachableArtifacts := make(sets.Set[string])
	reachableSources := make(sets.Set[sourcecache.Key])

	var walk func(dir string) error
	walk = func(dir string) error {
		if reachableArtifacts.Has(dir) {
			return nil
		}
		reachableArtifacts.Add(dir)

		b, err := readBuildSpec(dir)
		if err != nil {
			log.Warnf(ctx, "gc: %s: %v", dir, err)
			return nil
		}
		for _, src := range b.Sources {
			k := sourcecache.Key(src.Key)
			if k.Valid() {
				reachableSources.Add(k)
			}
		}

		meta, err := readArtifactMeta(dir)
		if err != nil {
			log.Warnf(ctx, "gc: %s: %v", dir, err)
			return nil
		}
		for _, depID := range meta.RuntimeDependencies {
			id, err := spec.ParseArtifactID(depID)
			if err != nil {
				continue
			}
			depDir, ok, err := resolveInOpt(layout, id)
			if err != nil || !ok {
				continue
			}
			if err := walk(depDir); err != nil {
				return err
			}
		}
		for _, im := range b.Build.Import {
			id, err := spec.ParseArtifactID(im.ID)
			if err != nil {
				continue // virtual reference; resolved target already reachable via RuntimeDependencies
			}
			depDir, ok, err := resolveInOpt(layout, id)
			if err != nil || !ok {
				continue
			}
			if err := walk(depDir); err != nil {
				return err
			}
		}
		return nil
	}

	for name, dir := range rootDirs {
		if err := walk(dir); err != nil {
			return Report{}, fmt.Errorf("gc: root %s: %w", name, err)
		}
	}

	report := Report{}
	keptArtifacts := sets.CollectSorted(maps.Keys(reachableArtifacts))
	for i := 0; i < keptArtifacts.Len(); i++ {
		report.KeptArtifacts = append(report.KeptArtifacts, keptArtifacts.At(i))
	}

	allArtifacts, err := listArtifactDirs(layout)
	if err != nil {
		return Report{}, fmt.Errorf("gc: %w", err)
	}
	for _, dir := range allArtifacts {
		if reachableArtifacts.Has(dir) {
			continue
		}
		report.RemovedArtifacts = append(report.RemovedArtifacts, dir)
		if !dryRun {
			if err := os.RemoveAll(dir); err != nil {
				return report, fmt.Errorf("gc: remove %s: %w", dir, err)
			}
		}
	}

	tags := sc.Tags()
	now := time.Now()
	for k, tag := range tags {
		if reachableSources.Has(k) {
			report.KeptSources = append(report.KeptSources, k)
			continue
		}
		p := policy[tag]
		recordedAt, ok := sc.RecordedAt(k)
		keep := p.Forever || (ok && p.MaxAge != 0 && now.Sub(recordedAt) < p.MaxAge)
		if keep {
			report.KeptSources = append(report.KeptSources, k)
			continue
		}
		report.RemovedSources = append(report.RemovedSources, k)
		if !dryRun {
			if err := sc.Remove(k); err != nil {
				return report, fmt.Errorf("gc: remove source %s: %w", k, err)
			}
		}
	}

	return report, nil
}

func resolveInOpt(layout storeLayout, id spec.ArtifactID) (dir string, ok bool, err error) {
	nameVersionDir := filepath.Join(layout.optRoot(), id.Name, id.Version)
	entries, err := os.ReadDir(nameVersionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if len(e.Name()) >= len(id.Hash) && e.Name()[:len(id.Hash)] == id.Hash {
			return filepath.Join(nameVersionDir, e.Name()), true, nil
		}
	}
	return "", false, nil
}

func listArtifactDirs(layout storeLayout) ([]string, error) {
	var out []string
	names, err := os.ReadDir(layout.optRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, name := range names {
		if !name.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(layout.optRoot(), name.Name()))
		if err != nil {
			continue
		}
		for _, version := range versions {
			if !version.IsDir() {
				continue
			}
			hashes, err := os.ReadDir(filepath.Join(layout.optRoot(), name.Name(), version.Name()))
			if err != nil {
				continue
			}
			for _, h := range hashes {
				if !h.IsDir() {
					continue // skip full-hash symlinks
				}
				out = append(out, filepath.Join(layout.optRoot(), name.Name(), version.Name(), h.Name()))
			}
		}
	}
	return out, nil
}

func readBuildSpec(artifactDir string) (*spec.BuildSpec, error) {
	data, err := os.ReadFile(filepath.Join(artifactDir, "build.json"))
	if err != nil {
		return nil, err
	}
	b := new(spec.BuildSpec)
	if err := jsonv2.Unmarshal(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readArtifactMeta(artifactDir string) (spec.ArtifactMeta, error) {
	data, err := os.ReadFile(filepath.Join(artifactDir, "artifact.json"))
	if err != nil {
		return spec.ArtifactMeta{}, err
	}
	var meta spec.ArtifactMeta
	if err := jsonv2.Unmarshal(data, &meta); err != nil {
		return spec.ArtifactMeta{}, err
	}
	return meta, nil
}
