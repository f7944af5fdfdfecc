package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/jobrunner"
	"hashdist.dev/hashdist/internal/spec"
)

func newBuildCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "build SPEC_FILE [IMPORT_ID...]",
		Short:                 "build a spec against already-resolved artifact imports",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), g, args[0], args[1:])
	}
	return c
}

// runBuild parses importArgs as ref=dir pairs and builds
// specPath against them, printing the resulting artifact directory.
func runBuild(ctx context.Context, g *globalConfig, specPath string, importArgs []string) error {
	data, err := readFile(specPath)
	if err != nil {
		return err
	}
	b, err := spec.ParseBuildSpec(data)
	if err != nil {
		return err
	}

	imports, err := parseResolvedImports(b, importArgs)
	if err != nil {
		return err
	}

	store, err := g.openStore()
	if err != nil {
		return err
	}
	sc, err := g.openSourceCache()
	if err != nil {
		return err
	}

	r, err := store.Build(ctx, b, imports, sc)
	if err != nil {
		return err
	}
	fmt.Println(r.Dir)
	return nil
}

// parseResolvedImports matches each declared import against a
// ref=dir command-line argument. A concrete import keeps its declared
// ID; a virtual import's ID is derived from dir's path. Every declared import must
// have a corresponding argument; this command never resolves imports
// on its own, in keeping with the store's "caller builds dependencies
// first" contract.
func parseResolvedImports(b *spec.BuildSpec, args []string) ([]jobrunner.ResolvedImport, error) {
	byRef := make(map[string]string, len(args)) // ref -> dir
	for _, a := range args {
		ref, dir, ok := cut(a, '=')
		if !ok {
			return nil, fmt.Errorf("malformed import argument %q, want ref=dir", a)
		}
		byRef[ref] = dir
	}

	out := make([]jobrunner.ResolvedImport, 0, len(b.Build.Import))
	for _, im := range b.Build.Import {
		dir, ok := byRef[im.Ref]
		if !ok {
			return nil, fmt.Errorf("missing resolved import for ref %q", im.Ref)
		}
		id := im.ID
		if alias, isVirtual := spec.IsVirtual(im.ID); isVirtual {
			_ = alias
			resolvedID, err := artifactIDFromDir(dir)
			if err != nil {
				return nil, fmt.Errorf("resolve virtual import %q: %w", im.Ref, err)
			}
			id = resolvedID
		}
		modifyEnv, err := readImportModifyEnv(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve import %q: %w", im.Ref, err)
		}
		out = append(out, jobrunner.ResolvedImport{
			Ref:       im.Ref,
			Declared:  im.ID,
			Before:    im.Before,
			ID:        id,
			Dir:       dir,
			InEnv:     im.InEnvOrDefault(),
			ModifyEnv: modifyEnv,
		})
	}
	return out, nil
}

// readImportModifyEnv reads the import_modify_env declared by the
// artifact at dir's own build.json: it is the imported artifact, not
// the importing spec, that says which of its directories should be
// folded into a dependent's PATH/CFLAGS/LDFLAGS.
func readImportModifyEnv(dir string) (spec.ImportModifyEnv, error) {
	data, err := readFile(dir + "/build.json")
	if err != nil {
		return spec.ImportModifyEnv{}, err
	}
	depSpec, err := spec.ParseBuildSpec(data)
	if err != nil {
		return spec.ImportModifyEnv{}, err
	}
	if depSpec.ImportModifyEnv == nil {
		return spec.ImportModifyEnv{}, nil
	}
	return *depSpec.ImportModifyEnv, nil
}
