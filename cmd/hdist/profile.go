package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/jobrunner"
	"hashdist.dev/hashdist/internal/profile"
	"hashdist.dev/hashdist/internal/spec"
)

func newProfileCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "profile ARTIFACT_ID...",
		Short:                 "build a profile whose roots are the given artifacts",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runProfile(cmd.Context(), g, args)
	}

	assembleCmd := &cobra.Command{
		Use:                   "__assemble-profile PROFILE_DIR ARTIFACT_ID...",
		Short:                 "internal: populate PROFILE_DIR from the given artifacts' install rules",
		DisableFlagsInUseLine: true,
		Hidden:                true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	assembleCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runAssembleProfile(cmd.Context(), g, args[0], args[1:])
	}
	c.AddCommand(assembleCmd)
	return c
}

// runProfile resolves each root, computes artifact metadata, and
// synthesizes + builds the profile's own BuildSpec so the result is
// cached and GC-visible like any other artifact.
func runProfile(ctx context.Context, g *globalConfig, rootIDStrs []string) error {
	store, err := g.openStore()
	if err != nil {
		return err
	}
	sc, err := g.openSourceCache()
	if err != nil {
		return err
	}

	rootIDs := make([]string, 0, len(rootIDStrs))
	for _, s := range rootIDStrs {
		id, err := spec.ParseArtifactID(s)
		if err != nil {
			return err
		}
		r, ok, err := store.Resolve(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not found", id)
		}
		rootIDs = append(rootIDs, r.Full.String())
	}

	hit, err := selfHitImport()
	if err != nil {
		return err
	}
	b := profile.SynthesizeBuildSpec("profile", "1", rootIDs, hit.ID)

	r, err := store.Build(ctx, b, []jobrunner.ResolvedImport{hit}, sc)
	if err != nil {
		return err
	}
	fmt.Println(r.Dir)
	return nil
}

func runAssembleProfile(ctx context.Context, g *globalConfig, profileDir string, rootIDStrs []string) error {
	store, err := g.openStore()
	if err != nil {
		return err
	}

	artifacts := make([]profile.Artifact, 0, len(rootIDStrs))
	seen := make(map[string]bool)
	var collect func(idStr string) error
	collect = func(idStr string) error {
		if seen[idStr] {
			return nil
		}
		seen[idStr] = true
		id, err := spec.ParseArtifactID(idStr)
		if err != nil {
			return err
		}
		r, ok, err := store.Resolve(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not found", id)
		}
		a, err := profile.LoadArtifact(r.Full.String(), r.Dir)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, a)
		for _, dep := range a.Meta.RuntimeDependencies {
			if err := collect(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, idStr := range rootIDStrs {
		if err := collect(idStr); err != nil {
			return err
		}
	}

	return profile.Assemble(ctx, artifacts, profileDir)
}
