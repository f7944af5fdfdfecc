package main

import (
	"context"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/opstatus"
	"zombiezen.com/go/log"
)

func newServeCommand(g *globalConfig) *cobra.Command {
	var listen string
	c := &cobra.Command{
		Use:                   "serve",
		Short:                 "serve a read-only diagnostics endpoint over HTTP",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&listen, "listen", "localhost:0", "`address` to listen on")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g, listen)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig, listen string) error {
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

	srv := &opstatus.Server{Store: store, Source: sc, Roots: roots}

	l, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer l.Close()
	log.Infof(ctx, "serving diagnostics on %s", l.Addr())

	httpServer := &http.Server{Handler: srv}
	errc := make(chan error, 1)
	go func() { errc <- httpServer.Serve(l) }()

	select {
	case <-ctx.Done():
		return httpServer.Close()
	case err := <-errc:
		return err
	}
}
