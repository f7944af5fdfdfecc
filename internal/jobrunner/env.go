package jobrunner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"hashdist.dev/hashdist/internal/spec"
)

// ResolvedImport is an [spec.Import] with its ref fully resolved to an
// on-disk artifact directory.
type ResolvedImport struct {
	Ref string
	// Declared is the ID exactly as written in the build spec: either
	// a concrete ArtifactID string, or "virtual:<alias>". This is what
	// participates in the build spec's hash.
	Declared string
	Before   []string
	// ID is the concrete, resolved full ArtifactID string — for a
	// virtual import, the artifact the alias was resolved to this
	// invocation. Never itself a virtual reference.
	ID        string
	Dir       string // absolute path to the artifact's root
	InEnv     bool
	ModifyEnv spec.ImportModifyEnv
}

// VirtualAlias reports the alias if this import's declared ID was a
// virtual reference.
func (ri ResolvedImport) VirtualAlias() (alias string, ok bool) {
	return spec.IsVirtual(ri.Declared)
}

// Env is the assembled environment for a job: a flat map plus the
// ordered import list used to build it, retained for diagnostics.
type Env struct {
	Vars    map[string]string
	Ordered []ResolvedImport
}

// BuildEnv assembles the base environment for a job given its
// resolved imports and the build/artifact working directories.
// Imports are visited in a stable topological order honoring each
// import's Before constraints, so that the exact string value of
// PATH, HDIST_CFLAGS, and HDIST_LDFLAGS is reproducible for a given
// canonical spec.
func BuildEnv(imports []ResolvedImport, buildDir, artifactDir string) (*Env, error) {
	refs := make([]string, len(imports))
	before := make(map[string][]string)
	byRef := make(map[string]ResolvedImport, len(imports))
	for i, im := range imports {
		refs[i] = im.Ref
		if len(im.Before) > 0 {
			before[im.Ref] = im.Before
		}
		byRef[im.Ref] = im
	}
	order, err := stableTopologicalSort(refs, before)
	if err != nil {
		return nil, fmt.Errorf("build env: %w", err)
	}

	vars := map[string]string{
		"BUILD":    buildDir,
		"ARTIFACT": artifactDir,
	}

	var pathDirs, cflags, ldflags []string
	virtuals := make(map[string]string)
	ordered := make([]ResolvedImport, 0, len(order))

	for _, ref := range order {
		im := byRef[ref]
		ordered = append(ordered, im)
		vars[im.Ref] = im.Dir
		vars[im.Ref+"_id"] = im.ID
		rel, err := filepath.Rel(buildDir, im.Dir)
		if err != nil {
			rel = im.Dir
		}
		vars[im.Ref+"_relpath"] = rel

		if alias, ok := im.VirtualAlias(); ok {
			virtuals[alias] = im.ID
		}

		if !im.InEnv {
			continue
		}
		if im.ModifyEnv.Bin {
			pathDirs = append(pathDirs, filepath.Join(im.Dir, "bin"))
		}
		if im.ModifyEnv.Include {
			cflags = append(cflags, "-I"+filepath.Join(im.Dir, "include"))
		}
		if im.ModifyEnv.Lib {
			libdir := filepath.Join(im.Dir, "lib")
			ldflags = append(ldflags, "-L"+libdir, "-Wl,-R,"+libdir)
		}
	}

	vars["PATH"] = strings.Join(pathDirs, string(filepath.ListSeparator))
	vars["HDIST_CFLAGS"] = strings.Join(cflags, " ")
	vars["HDIST_LDFLAGS"] = strings.Join(ldflags, " ")
	vars["HDIST_VIRTUALS"] = packVirtuals(virtuals)

	return &Env{Vars: vars, Ordered: ordered}, nil
}

// packVirtuals encodes a virtual-alias resolution table as a
// semicolon-joined, sorted list of key=value pairs, so its string
// value is stable regardless of map iteration order.
func packVirtuals(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ";")
}

// UnpackVirtuals is the inverse of packVirtuals, exposed for build
// scripts that want to introspect HDIST_VIRTUALS.
func UnpackVirtuals(s string) map[string]string {
	m := make(map[string]string)
	if s == "" {
		return m
	}
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
