package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newFetchCommand(g *globalConfig) *cobra.Command {
	var strip int
	var putPath string
	c := &cobra.Command{
		Use:                   "fetch [URL]",
		Short:                 "fetch a URL (or register a local file/directory with --put) into the source cache",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MaximumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().IntVar(&strip, "strip", 0, "ignored by fetch; strip is set per source in a build spec")
	c.Flags().StringVar(&putPath, "put", "", "register a local `path` instead of fetching a URL")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		sc, err := g.openSourceCache()
		if err != nil {
			return err
		}
		if putPath != "" {
			key, err := sc.Put(cmd.Context(), putPath)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("fetch requires a URL argument unless --put is given")
		}
		url := args[0]
		if strings.HasPrefix(url, "git+") {
			key, err := sc.FetchGit(cmd.Context(), strings.TrimPrefix(url, "git+"), "")
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		}
		key, err := sc.Fetch(cmd.Context(), url)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}
	return c
}
