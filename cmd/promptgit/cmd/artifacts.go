package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/server"
)

func (a *app) getCommand() *cobra.Command {
	var (
		version string
		asJSON  bool
	)
	c := &cobra.Command{
		Use:   "get <path>",
		Short: "Print an artifact's template, or the whole artifact with --json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				art, err := reg.Get(cmd.Context(), args[0], version)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(server.NewArtifactResponse(art))
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), art.Template)
				return err
			})
		},
	}
	c.Flags().StringVar(&version, "version", "", "branch, tag or commit (default HEAD)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the artifact as JSON")
	return c
}

func (a *app) renderCommand() *cobra.Command {
	var (
		version  string
		vars     []string
		varsFile string
	)
	c := &cobra.Command{
		Use:   "render <path>",
		Short: "Render an artifact with variables",
		Example: `  promptgit render assistant --var name=Ann --var style=formal
  promptgit render assistant --version v1.2.0 --vars-file vars.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				art, err := reg.Get(cmd.Context(), args[0], version)
				if err != nil {
					return err
				}
				values, err := readVarsFile(varsFile)
				if err != nil {
					return err
				}
				if err := parseVars(art, vars, values); err != nil {
					return err
				}
				out, err := reg.Render(cmd.Context(), args[0], version, values)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	c.Flags().StringVar(&version, "version", "", "branch, tag or commit (default HEAD)")
	c.Flags().StringArrayVar(&vars, "var", nil, "variable as key=value; repeatable")
	c.Flags().StringVar(&varsFile, "vars-file", "", "YAML file with a mapping of variables")
	return c
}

func readVarsFile(path string) (map[string]any, error) {
	values := make(map[string]any)
	if path == "" {
		return values, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the user on the command line
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "reading vars file")
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "parsing vars file "+path)
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}

// parseVars adds key=value pairs to values. Values of variables declared with a type other
// than string are decoded as YAML scalars so that "3" becomes an int and "true" a bool.
func parseVars(art *promptgit.Artifact, pairs []string, values map[string]any) error {
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return platformerrors.Newf(platformerrors.CodeInvalidInput, "invalid variable %q: use key=value", pair)
		}
		spec, declared := art.Variables[key]
		if !declared || spec.Type == promptgit.VarString {
			values[key] = raw
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid value for "+key)
		}
		values[key] = v
	}
	return nil
}

func (a *app) validateCommand() *cobra.Command {
	var version string
	c := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check an artifact for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				problems := reg.Validate(cmd.Context(), args[0], version)
				if len(problems) == 0 {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
					return err
				}
				for _, p := range problems {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
				}
				return platformerrors.Newf(platformerrors.CodeSchemaFailed, "%s: %d problem(s)", args[0], len(problems))
			})
		},
	}
	c.Flags().StringVar(&version, "version", "", "branch, tag or commit (default HEAD)")
	return c
}

func (a *app) listCommand() *cobra.Command {
	var version string
	c := &cobra.Command{
		Use:   "list",
		Short: "List artifact paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				for p, err := range reg.ListArtifacts(cmd.Context(), version) {
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
	c.Flags().StringVar(&version, "version", "", "branch, tag or commit (default HEAD)")
	return c
}
