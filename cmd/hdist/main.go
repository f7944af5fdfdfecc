// Command hdist is the command-line front end for the hashdist build
// system: resolving, building, fetching sources, assembling profiles,
// and collecting garbage in a content-addressed store.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"hashdist.dev/hashdist/internal/buildstore"
	"hashdist.dev/hashdist/internal/gc"
	"hashdist.dev/hashdist/internal/hdconfig"
	"hashdist.dev/hashdist/internal/sourcecache"
	"zombiezen.com/go/log"
)

// globalConfig holds the resolved configuration and persistent flag
// values shared by every subcommand.
type globalConfig struct {
	configPath string
	storeRoot  string
	debug      bool

	cfg *hdconfig.Config
}

func (g *globalConfig) load() error {
	cfg, err := hdconfig.Load(g.configPath)
	if err != nil {
		return err
	}
	g.cfg = cfg
	if g.storeRoot == "" {
		g.storeRoot, err = hdconfig.FirstWritable(cfg.BuildStores)
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *globalConfig) openStore() (*buildstore.Store, error) {
	return buildstore.Open(g.storeRoot)
}

func (g *globalConfig) openSourceCache() (*sourcecache.Cache, error) {
	dir, err := hdconfig.FirstWritable(g.cfg.SourceCaches)
	if err != nil {
		return nil, err
	}
	return sourcecache.Open(dir)
}

func (g *globalConfig) openRoots() (*gc.Roots, error) {
	return gc.OpenRoots(g.cfg.GCRoots)
}

func main() {
	g := &globalConfig{configPath: hdconfig.DefaultPath()}

	root := &cobra.Command{
		Use:           "hdist",
		Short:         "content-addressed build orchestration",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", g.configPath, "`path` to config.yaml")
	root.PersistentFlags().StringVar(&g.storeRoot, "store", "", "`path` to the build store root (overrides config)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "show debugging output")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(g.debug)
		return g.load()
	}

	root.AddCommand(
		newBuildCommand(g),
		newResolveCommand(g),
		newFetchCommand(g),
		newProfileCommand(g),
		newGCCommand(g),
		newGCRootCommand(g),
		newServeCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "hdist: ", log.StdFlags, nil),
		})
	})
}
