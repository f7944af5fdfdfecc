package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/gc"
)

func newGCCommand(g *globalConfig) *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:                   "gc",
		Short:                 "collect unreferenced artifacts and source-cache entries",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runGC(cmd.Context(), g, dryRun)
	}
	return c
}

// newGCRootCommand is the "gc-root" command family for managing the
// named roots that "hdist gc" treats as reachable.
func newGCRootCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "gc-root",
		Short:                 "manage named GC roots",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(newGCRootAddCommand(g), newGCRootRemoveCommand(g), newGCRootListCommand(g))
	return c
}

func runGC(ctx context.Context, g *globalConfig, dryRun bool) error {
	store, err := g.openStore()
	if err != nil {
		return err
	}
	sc, err := g.openSourceCache()
	if err != nil {
		return err
	}
	roots, err := g.openRoots()
	if err != nil {
		return err
	}

	report, err := gc.Collect(ctx, store.Root(), roots, sc, gc.DefaultPolicy(), dryRun)
	if err != nil {
		return err
	}

	verb := "removed"
	if dryRun {
		verb = "would remove"
	}
	fmt.Printf("kept %d artifact(s), %s %d artifact(s)\n", len(report.KeptArtifacts), verb, len(report.RemovedArtifacts))
	for _, dir := range report.RemovedArtifacts {
		fmt.Println("-", dir)
	}
	fmt.Printf("kept %d source(s), %s %d source(s)\n", len(report.KeptSources), verb, len(report.RemovedSources))
	for _, k := range report.RemovedSources {
		fmt.Println("-", k)
	}
	return nil
}

func newGCRootAddCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "add NAME ARTIFACT_DIR",
		Short:                 "register a named GC root pointing at an artifact or profile directory",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(2),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		roots, err := g.openRoots()
		if err != nil {
			return err
		}
		return roots.Add(args[0], args[1])
	}
	return c
}

func newGCRootRemoveCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "remove NAME",
		Short:                 "remove a named GC root",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		roots, err := g.openRoots()
		if err != nil {
			return err
		}
		return roots.Remove(args[0])
	}
	return c
}

func newGCRootListCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "list",
		Short:                 "list named GC roots",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		roots, err := g.openRoots()
		if err != nil {
			return err
		}
		list, err := roots.List()
		if err != nil {
			return err
		}
		for name, target := range list {
			fmt.Printf("%s -> %s\n", name, target)
		}
		return nil
	}
	return c
}
