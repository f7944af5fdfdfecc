package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/spec"
)

func newResolveCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "resolve ARTIFACT_ID",
		Short:                 "look up an artifact's directory without building",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runResolve(g, args[0])
	}
	return c
}

func runResolve(g *globalConfig, idStr string) error {
	id, err := spec.ParseArtifactID(idStr)
	if err != nil {
		return err
	}
	store, err := g.openStore()
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
	fmt.Println(r.Dir)
	return nil
}
