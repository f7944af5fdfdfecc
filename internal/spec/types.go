// Package spec defines the JSON document shapes that flow across
// hashdist's external interface — build specs, artifact metadata, and
// profile manifests — along with the canonicalization and hashing
// rules (component C3) that turn a build spec into an [ArtifactID].
package spec

import (
	"fmt"
	"regexp"

	"github.com/go-json-experiment/json"
)

// nameRE and versionRE bound the characters permitted in an artifact's
// name and version, matching the grammar external callers must honor
// when writing build.json by hand.
var (
	nameRE    = regexp.MustCompile(`^[A-Za-z0-9_\-+]+$`)
	versionRE = regexp.MustCompile(`^[A-Za-z0-9_\-+.]*$`)
)

// Value is a dynamically typed JSON value as decoded from a build
// spec's opaque parameter blobs. It holds one of: nil, bool, float64,
// string, []Value, or map[string]Value.
type Value = any

// SourceRef names one source entry to unpack into a build directory.
type SourceRef struct {
	Key    string `json:"key"`
	Target string `json:"target,omitempty"`
	Strip  int    `json:"strip,omitempty"`
}

// Import binds an artifact (or a virtual alias) to a variable name
// visible inside a build's environment.
type Import struct {
	Ref string `json:"ref"`
	ID  string `json:"id"`
	// Before lists refs that must be ordered after this import when
	// accumulating PATH/HDIST_CFLAGS/HDIST_LDFLAGS; see
	// internal/jobrunner's topological sort.
	Before []string `json:"before,omitempty"`
	// InEnv controls whether this import contributes to
	// import_modify_env-driven PATH/CFLAGS/LDFLAGS accumulation.
	// Defaults to true.
	InEnv *bool `json:"in_env,omitempty"`
}

// InEnvOrDefault reports whether the import should contribute to
// environment accumulation, defaulting to true when unset.
func (im Import) InEnvOrDefault() bool {
	return im.InEnv == nil || *im.InEnv
}

// Command is a single step of a build job.
type Command struct {
	Cmd    []string          `json:"cmd"`
	ToVar  string            `json:"to_var,omitempty"`
	Inputs string            `json:"inputs,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
	Cwd    string            `json:"cwd,omitempty"`
}

// Job is the executable portion of a build spec: the set of artifacts
// to import and the commands to run against the resulting environment.
type Job struct {
	Import   []Import  `json:"import,omitempty"`
	Commands []Command `json:"commands,omitempty"`
}

// ImportModifyEnv declares which directories under this artifact
// should be folded into dependents' PATH/HDIST_CFLAGS/HDIST_LDFLAGS
// when this artifact is imported.
type ImportModifyEnv struct {
	Bin     bool `json:"bin,omitempty"`
	Include bool `json:"include,omitempty"`
	Lib     bool `json:"lib,omitempty"`
}

// LinkRule is one entry of an install block's link DSL (component C8).
type LinkRule struct {
	Action string `json:"action"` // symlink | copy | absorb | exclude
	Select string `json:"select"`
	Prefix string `json:"prefix,omitempty"`
	Target string `json:"target,omitempty"`
}

// InstallParameters holds the link rules, the environment variables
// this artifact contributes to a profile's aggregated profile.json, and
// any opaque parameters passed through to a profile-time install hook.
type InstallParameters struct {
	Links      []LinkRule        `json:"links,omitempty"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`
	Parameters map[string]Value  `json:"parameters,omitempty"`
}

// ProfileInstall is the "profile_install" block of a build spec: the
// seed for the artifact's eventual artifact.json install metadata.
type ProfileInstall struct {
	Parameters InstallParameters `json:"parameters"`
}

// BuildSpec is the full document a caller submits to request a build.
type BuildSpec struct {
	Name            string           `json:"name"`
	Version         string           `json:"version,omitempty"`
	Sources         []SourceRef      `json:"sources,omitempty"`
	Build           Job              `json:"build"`
	ProfileInstall  *ProfileInstall  `json:"profile_install,omitempty"`
	ImportModifyEnv *ImportModifyEnv `json:"import_modify_env,omitempty"`
}

// Validate checks the structural invariants a build spec must satisfy
// before it can be canonicalized: name/version grammar, and that every
// command's first token references a declared import.
func (b *BuildSpec) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("build spec: name is required")
	}
	if !nameRE.MatchString(b.Name) {
		return fmt.Errorf("build spec: name %q does not match %s", b.Name, nameRE)
	}
	if !versionRE.MatchString(b.Version) {
		return fmt.Errorf("build spec: version %q does not match %s", b.Version, versionRE)
	}
	refs := make(map[string]bool, len(b.Build.Import))
	for _, im := range b.Build.Import {
		if im.Ref == "" {
			return fmt.Errorf("build spec: import with empty ref")
		}
		if im.ID == "" {
			return fmt.Errorf("build spec: import %q: id is required", im.Ref)
		}
		refs[im.Ref] = true
	}
	for i, cmd := range b.Build.Commands {
		if len(cmd.Cmd) == 0 {
			return fmt.Errorf("build spec: command %d: empty cmd", i)
		}
		ref, ok := parseRefSubstitution(cmd.Cmd[0])
		if !ok {
			return fmt.Errorf("build spec: command %d: first token %q is not a ${ref} substitution", i, cmd.Cmd[0])
		}
		if ref != "hit" && !refs[ref] {
			return fmt.Errorf("build spec: command %d: references undeclared import %q", i, ref)
		}
	}
	return nil
}

var refSubstitutionRE = regexp.MustCompile(`^\$\{([A-Za-z0-9_]+)\}`)

// parseRefSubstitution reports whether s begins with a ${ref}
// substitution and, if so, returns the referenced name.
func parseRefSubstitution(s string) (ref string, ok bool) {
	m := refSubstitutionRE.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseBuildSpec decodes lenient (comment- and trailing-comma-tolerant)
// JSON into a BuildSpec, standardizing it first. cmd/hdist loads every
// build.json through it.
func ParseBuildSpec(data []byte) (*BuildSpec, error) {
	std, err := standardizeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse build spec: %w", err)
	}
	b := new(BuildSpec)
	if err := json.Unmarshal(std, b); err != nil {
		return nil, fmt.Errorf("parse build spec: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
