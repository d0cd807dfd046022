package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/config"
	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/repository"
)

func (a *app) cloneCommand() *cobra.Command {
	var (
		name, branch string
		force        bool
	)
	c := &cobra.Command{
		Use:   "clone <url>",
		Short: "Clone a prompt repository under the cache root",
		Long: `Clone fetches a repository with all branches and tags into <cache root>/<name>/repo.
The name defaults to the last URL segment without ".git" and can be passed to --repo afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []repository.CloneOption{repository.WithOpenOptions(repository.WithLogger(a.logger))}
			if name != "" {
				opts = append(opts, repository.WithName(name))
			}
			if branch != "" {
				opts = append(opts, repository.WithBranch(branch))
			}
			if force {
				opts = append(opts, repository.WithForce())
			}
			h, err := repository.Clone(cmd.Context(), args[0], a.cfg.CacheRoot, opts...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cloned %s into %s\n", h.ID(), h.Path())
			return err
		},
	}
	c.Flags().StringVar(&name, "name", "", "clone name (default derived from the URL)")
	c.Flags().StringVar(&branch, "branch", "", "branch to check out (default the remote HEAD)")
	c.Flags().BoolVar(&force, "force", false, "replace an existing clone with the same name")
	return c
}

func (a *app) reposCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "repos",
		Short: "List clones under the cache root",
		Long: `Repos lists the clones under the cache root and marks the default repository with "*".
Its subcommands update a clone from its origin and set the default repository.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := repository.List(a.cfg.CacheRoot)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBRANCH\tCOMMIT\tPATH")
			for _, info := range infos {
				branch := info.Branch
				if branch == "" {
					branch = "(detached)"
				}
				name := info.Name
				if name == a.cfg.DefaultRepo {
					name = "* " + name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, branch, promptgit.ShortHash(info.Hash), info.Path)
			}
			return w.Flush()
		},
	}
	c.AddCommand(a.reposUpdateCommand(), a.reposDefaultCommand())
	return c
}

func (a *app) reposUpdateCommand() *cobra.Command {
	var branch string
	c := &cobra.Command{
		Use:   "update <name>",
		Short: "Fast-forward a clone from its origin",
		Long: `Update checks out --branch when given, then pulls the current branch from origin.
It refuses to run on uncommitted changes, a detached HEAD or a diverged branch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := registry.NewSet(a.cfg.CacheRoot, 0, a.cfg.RegistryOptions(a.logger)...)
			defer a.closeSet(set)
			reg, err := set.Registry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := reg.Pull(cmd.Context(), branch); err != nil {
				return err
			}
			cur, err := reg.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated %s to %s@%s\n", args[0], cur.Name, cur.ShortHash)
			return err
		},
	}
	c.Flags().StringVar(&branch, "branch", "", "branch to check out before pulling")
	return c
}

func (a *app) reposDefaultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "default [name]",
		Short: "Show or set the default repository",
		Long: `Without a name, default prints the default repository. With one, it stores the name in
the config file as default_repo; commands then use it whenever --repo is not given.
The name must be a clone under the cache root or a repository directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if a.cfg.DefaultRepo == "" {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no default repository")
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), a.cfg.DefaultRepo)
				return err
			}
			name, err := a.repoTarget(args[0])
			if err != nil {
				return err
			}
			file, err := config.SaveDefaultRepo(a.v, name)
			if err != nil {
				return err
			}
			a.logger.Debug("saved default repository", "repo", name, "file", file)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "default repository is %s\n", name)
			return err
		},
	}
}

// repoTarget checks that name is a clone under the cache root or a repository directory.
// Directories are returned as absolute paths.
func (a *app) repoTarget(name string) (string, error) {
	if _, err := os.Stat(filepath.Join(repository.Dir(a.cfg.CacheRoot, name), "repo")); err == nil {
		return name, nil
	}
	h, err := repository.Open(name, repository.WithLogger(a.logger))
	if err != nil {
		return "", fmt.Errorf("%w: %s is neither a clone nor a repository", promptgit.ErrNotRepository, name)
	}
	return h.Path(), nil
}

func (a *app) closeSet(set *registry.Set) {
	if err := set.Close(context.Background()); err != nil {
		a.logger.Warn("closing registries", "err", err)
	}
}

func (a *app) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a clone and its snapshots from the cache root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repository.Remove(a.cfg.CacheRoot, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return err
		},
	}
}

func (a *app) gcCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove snapshots left behind by earlier processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				n, err := reg.RemoveOrphans(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d snapshot(s)\n", n)
				return err
			})
		},
	}
}
