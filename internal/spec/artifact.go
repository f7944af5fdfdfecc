package spec

import (
	"fmt"
	"regexp"
	"strings"
)

// ArtifactID identifies a built artifact as name/version/hash.
type ArtifactID struct {
	Name    string
	Version string
	Hash    string
}

var artifactIDRE = regexp.MustCompile(`^([A-Za-z0-9_\-+]+)/([A-Za-z0-9_\-+.]*)/([A-Za-z0-9_\-]+)$`)

// ParseArtifactID parses the canonical string form name/version/hash.
// The hash component may be a full digest or a short prefix; callers
// that need the full form should resolve it against the store.
func ParseArtifactID(s string) (ArtifactID, error) {
	m := artifactIDRE.FindStringSubmatch(s)
	if m == nil {
		return ArtifactID{}, fmt.Errorf("parse artifact id %q: malformed", s)
	}
	return ArtifactID{Name: m[1], Version: m[2], Hash: m[3]}, nil
}

// String returns the canonical name/version/hash form.
func (id ArtifactID) String() string {
	return id.Name + "/" + id.Version + "/" + id.Hash
}

// IsVirtual reports whether ref is a virtual import reference of the
// form virtual:<alias> and, if so, returns the alias.
func IsVirtual(ref string) (alias string, ok bool) {
	alias, ok = strings.CutPrefix(ref, "virtual:")
	return alias, ok
}

// ArtifactMeta is the artifact.json document written alongside every
// installed artifact.
type ArtifactMeta struct {
	Install             *ProfileInstall   `json:"install,omitempty"`
	RuntimeDependencies []string          `json:"runtime-dependencies,omitempty"`
	ProfileEnvVars      map[string]string `json:"profile-env-vars,omitempty"`
}

// ProfileMeta is the profile.json document written at the root of an
// assembled profile, aggregating every constituent artifact's
// profile-env-vars.
type ProfileMeta struct {
	Artifacts []string          `json:"artifacts"`
	EnvVars   map[string]string `json:"env-vars,omitempty"`
}
