package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/server"
)

func (a *app) serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve repositories over HTTP",
		Long: `Serve exposes artifacts, rendering, validation, versions, checkout and diffs as JSON
over HTTP until interrupted. The target repository is served at the root; it and every
clone under the cache root are served under /repos/{name}. Without a target repository only
the /repos routes answer. Idle snapshots and expired cache entries are collected every
gc_interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set := registry.NewSet(a.cfg.CacheRoot, a.cfg.GCInterval, a.cfg.RegistryOptions(a.logger)...)
			defer a.closeSet(set)

			var def server.Service
			h, err := a.openHandle()
			switch {
			case err == nil:
				def = set.Add(cmd.Context(), h)
			case a.cfg.Repo != "" || a.cfg.DefaultRepo != "":
				return err
			default:
				a.logger.Info("no default repository; serving clones only", "cache_root", a.cfg.CacheRoot, "err", err)
			}
			srv := server.New(def, server.WithLogger(a.logger), server.WithCatalog(catalog{set}))
			return srv.ListenAndServe(cmd.Context(), a.cfg.Listen)
		},
	}
	c.Flags().String("listen", "127.0.0.1:8080", "address to listen on")
	c.Flags().Duration("gc-interval", 0, "snapshot and cache collection interval (default 1m)")
	c.Flags().Bool("validate-on-render", true, "validate artifacts before rendering")
	return c
}

// catalog serves the registries of a set to the server.
type catalog struct {
	set *registry.Set
}

func (c catalog) Repos(context.Context) ([]server.RepoInfo, error) {
	infos, err := c.set.Repos()
	if err != nil {
		return nil, err
	}
	out := make([]server.RepoInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, server.RepoInfo{Name: info.Name, Branch: info.Branch, Hash: info.Hash})
	}
	return out, nil
}

func (c catalog) Service(ctx context.Context, name string) (server.Service, error) {
	reg, err := c.set.Registry(ctx, name)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
