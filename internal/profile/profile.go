// Package profile implements the profile assembler (component C6):
// composing a set of artifacts into a single Unix-style prefix
// directory by interpreting each artifact's install metadata.
package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsonv2 "github.com/go-json-experiment/json"
	"golang.org/x/sync/errgroup"
	"hashdist.dev/hashdist/internal/linkdsl"
	"hashdist.dev/hashdist/internal/spec"
)

// ErrConflict is returned when two artifacts contribute incompatible
// content at the same profile path.
type ErrConflict struct {
	Path    string
	First   string
	Second  string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("profile: conflicting contributions to %s from %s and %s", e.Path, e.First, e.Second)
}

// Artifact is one constituent of a profile: its resolved directory
// and parsed metadata.
type Artifact struct {
	ID   string
	Dir  string
	Meta spec.ArtifactMeta
}

// LoadArtifact reads artifact.json from dir and returns an Artifact
// for id.
func LoadArtifact(id, dir string) (Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, "artifact.json"))
	if err != nil {
		return Artifact{}, fmt.Errorf("load artifact %s: %w", id, err)
	}
	var meta spec.ArtifactMeta
	if err := jsonv2.Unmarshal(data, &meta); err != nil {
		return Artifact{}, fmt.Errorf("load artifact %s: %w", id, err)
	}
	return Artifact{ID: id, Dir: dir, Meta: meta}, nil
}

// Assemble populates profileDir from artifacts' install rules and
// writes the aggregated profile.json. Each artifact's link rules are
// applied concurrently, one goroutine per artifact, straight into
// profileDir; an artifact's symlink/copy claims are checked for
// conflicts after its own rules have been applied.
func Assemble(ctx context.Context, artifacts []Artifact, profileDir string) error {
	if err := os.MkdirAll(profileDir, 0o777); err != nil {
		return fmt.Errorf("assemble profile: %w", err)
	}

	written := make(map[string]string) // profile-relative path -> contributing artifact id
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if a.Meta.Install == nil {
				return nil
			}
			rules := make([]linkdsl.Rule, len(a.Meta.Install.Parameters.Links))
			for i, r := range a.Meta.Install.Parameters.Links {
				rules[i] = linkdsl.Rule{
					Action: r.Action,
					Select: r.Select,
					Prefix: substitutePlaceholders(r.Prefix, a.Dir, profileDir),
					Target: substitutePlaceholders(r.Target, a.Dir, profileDir),
				}
			}
			if err := linkdsl.Apply(rules, a.Dir, profileDir); err != nil {
				return fmt.Errorf("assemble profile: artifact %s: %w", a.ID, err)
			}

			// Only symlink/copy rules claim a single top-level profile
			// path per match; absorb exists specifically so several
			// artifacts can populate the same shared directory (e.g.
			// share/man), so its matches are never treated as claims.
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rules {
				if r.Action != "symlink" && r.Action != "copy" {
					continue
				}
				matches, err := linkdsl.Glob(filepath.Join(a.Dir, r.Prefix), r.Select)
				if err != nil {
					return err
				}
				for _, m := range matches {
					rel := filepath.Join(r.Target, m)
					if prior, ok := written[rel]; ok && prior != a.ID {
						return &ErrConflict{Path: rel, First: prior, Second: a.ID}
					}
					written[rel] = a.ID
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return writeProfileMeta(artifacts, profileDir)
}

func substitutePlaceholders(s, artifactDir, profileDir string) string {
	s = strings.ReplaceAll(s, "$ARTIFACT", artifactDir)
	s = strings.ReplaceAll(s, "$PROFILE", profileDir)
	return s
}

func writeProfileMeta(artifacts []Artifact, profileDir string) error {
	ids := make([]string, len(artifacts))
	envVars := make(map[string]string)
	for i, a := range artifacts {
		ids[i] = a.ID
		for k, v := range a.Meta.ProfileEnvVars {
			if existing, ok := envVars[k]; ok && existing != v {
				return &ErrConflict{Path: "env:" + k, First: existing, Second: v}
			}
			envVars[k] = v
		}
	}
	sort.Strings(ids)
	meta := spec.ProfileMeta{Artifacts: ids, EnvVars: envVars}
	data, err := jsonv2.Marshal(meta)
	if err != nil {
		return fmt.Errorf("write profile.json: %w", err)
	}
	return os.WriteFile(filepath.Join(profileDir, "profile.json"), data, 0o666)
}
