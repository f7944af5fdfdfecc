package profile

import (
	"sort"

	"hashdist.dev/hashdist/internal/spec"
)

// SynthesizeBuildSpec produces the BuildSpec for a profile whose roots
// are rootIDs: its single command re-invokes this same binary's
// internal profile-assembly subcommand, passing the artifact's own
// directory and the sorted root artifact IDs as arguments. Building it like any other artifact makes
// a profile content-addressed, cached, and a GC root closure member
// like anything else in the store.
func SynthesizeBuildSpec(name, version string, rootIDs []string, hitImportID string) *spec.BuildSpec {
	sorted := append([]string(nil), rootIDs...)
	sort.Strings(sorted)

	cmd := []string{"${hit}/hdist", "profile", "__assemble-profile", "${ARTIFACT}"}
	cmd = append(cmd, sorted...)

	return &spec.BuildSpec{
		Name:    name,
		Version: version,
		Build: spec.Job{
			Import: []spec.Import{{Ref: "hit", ID: hitImportID}},
			Commands: []spec.Command{
				{Cmd: cmd},
			},
		},
	}
}
