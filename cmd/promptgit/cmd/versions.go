package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/registry"
)

func (a *app) versionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List branches and tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				branches, tags, err := reg.ListVersions(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KIND\tNAME\tCOMMIT\tDATE\tMESSAGE")
				writeVersions(w, "branch", branches)
				writeVersions(w, "tag", tags)
				return w.Flush()
			})
		},
	}
}

func writeVersions(w io.Writer, kind string, versions []promptgit.VersionDescriptor) {
	for _, d := range versions {
		name := d.Name
		if d.IsCurrent {
			name = "* " + name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", kind, name, d.ShortHash, d.CommittedAt.Format("2006-01-02"), d.Message)
	}
}

func (a *app) currentCommand() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "current",
		Short: "Show the checked out version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				d, err := reg.CurrentVersion(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(d)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s\n", d.Name, d.ShortHash, d.Message)
				return err
			})
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return c
}

func (a *app) checkoutCommand() *cobra.Command {
	var create bool
	c := &cobra.Command{
		Use:   "checkout <version>",
		Short: "Move the working copy to a branch, tag or commit",
		Long: `Checkout moves the repository's working copy. It refuses when tracked files have
uncommitted changes. With --create, a version that does not exist becomes a new branch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				if err := reg.Checkout(cmd.Context(), args[0], create); err != nil {
					return err
				}
				return printCurrent(cmd, reg, "checked out")
			})
		},
	}
	c.Flags().BoolVar(&create, "create", false, "create the branch when the version does not exist")
	return c
}

func (a *app) rollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Check out a previous version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				if err := reg.Rollback(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printCurrent(cmd, reg, "rolled back to")
			})
		},
	}
}

func printCurrent(cmd *cobra.Command, reg *registry.Registry, verb string) error {
	d, err := reg.CurrentVersion(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, d.Name, d.ShortHash)
	return err
}

func (a *app) diffCommand() *cobra.Command {
	var (
		from, to string
		unified  bool
	)
	c := &cobra.Command{
		Use:   "diff <path>",
		Short: "Compare an artifact between two versions",
		Example: `  promptgit diff greeting --from v1.0 --to main
  promptgit diff greeting --from HEAD~1 --unified`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				d, err := reg.Diff(cmd.Context(), args[0], from, to)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if unified {
					text, err := d.Unified()
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, text)
					return err
				}
				changes := d.Changes()
				if len(changes) == 0 {
					_, err := fmt.Fprintf(out, "%s: no changes between %s and %s\n", d.Path, d.From, d.To)
					return err
				}
				fmt.Fprintf(out, "%s: %s..%s\n", d.Path, d.From, d.To)
				for _, l := range changes {
					sign := "+"
					if l.Kind == promptgit.DiffRemoved {
						sign = "-"
					}
					fmt.Fprintf(out, "%s %s\n", sign, l.Content)
				}
				return nil
			})
		},
	}
	c.Flags().StringVar(&from, "from", "", "old version (default HEAD)")
	c.Flags().StringVar(&to, "to", "", "new version (default HEAD)")
	c.Flags().BoolVar(&unified, "unified", false, "print a unified diff")
	return c
}
