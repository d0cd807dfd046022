// Package cmd implements the promptgit command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/config"
	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/repository"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the promptgit command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:   "promptgit",
		Short: "Versioned prompt artifacts served from git",
		Long: `promptgit reads prompt artifacts (YAML templates with declared variables) from a git
repository at any branch, tag or commit, without touching the checked out working copy.

Settings come from flags, PROMPTGIT_* environment variables and an optional config file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default $"+config.ConfigEnv+" or ./promptgit.yaml)")
	pf.String("repo", "", "repository working copy, or the name of a clone under the cache root (default default_repo, else "+config.DefaultRepoDir+")")
	pf.String("cache-root", "", "directory holding clones and snapshots (default <user cache dir>/promptgit)")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "text", "text or json")

	root.AddCommand(
		a.getCommand(),
		a.renderCommand(),
		a.validateCommand(),
		a.listCommand(),
		a.addCommand(),
		a.editCommand(),
		a.deleteCommand(),
		a.versionsCommand(),
		a.currentCommand(),
		a.checkoutCommand(),
		a.rollbackCommand(),
		a.diffCommand(),
		a.cloneCommand(),
		a.reposCommand(),
		a.removeCommand(),
		a.gcCommand(),
		a.serveCommand(),
	)
	return root
}

// Execute runs the command line with args and returns the process exit code.
// Errors are printed with their platform error code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		resp := platformerrors.ToJSON(promptgit.PlatformError(err))
		fmt.Fprintf(root.ErrOrStderr(), "error [%s]: %s\n", resp.Code, resp.Message)
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return nil
}

// openHandle opens the target repository (--repo, else default_repo, else ./prompts): a
// directory, or else a clone of that name under the cache root.
func (a *app) openHandle() (*repository.Handle, error) {
	opts := []repository.Option{repository.WithLogger(a.logger)}
	target := a.cfg.Target()
	path := target
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		clone := filepath.Join(repository.Dir(a.cfg.CacheRoot, target), "repo")
		if _, err := os.Stat(clone); err == nil {
			path = clone
			opts = append(opts, repository.WithID(target))
		}
	}
	return repository.Open(path, opts...)
}

// openRegistry opens the configured repository. The returned close func removes the
// snapshots this process created.
func (a *app) openRegistry() (*registry.Registry, func(), error) {
	h, err := a.openHandle()
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New(h, a.cfg.RegistryOptions(a.logger)...)
	closeFn := func() {
		if err := reg.Close(context.Background()); err != nil {
			a.logger.Warn("closing registry", "err", err)
		}
	}
	return reg, closeFn, nil
}

// withRegistry runs fn against the configured repository.
func (a *app) withRegistry(fn func(reg *registry.Registry) error) error {
	reg, closeFn, err := a.openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(reg)
}
