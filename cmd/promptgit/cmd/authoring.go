package cmd

import (
	"fmt"
	"io"
	"os"
	"path"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/loader"
	"github.com/skosovsky/promptgit/manifest"
	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/versioning"
)

func (a *app) addCommand() *cobra.Command {
	var file, name, description, template, message string
	c := &cobra.Command{
		Use:   "add <path>",
		Short: "Create an artifact, commit it and tag its first version",
		Long: `Add writes a new artifact file <path>.yaml into the working copy, commits it on the
current branch and tags the commit <path>/v<version>, with slashes in path turned into dashes.
The file is read from --file ("-" for stdin) or scaffolded from --name, --description and
--template. Other staged changes are left out of the commit.`,
		Example: `  promptgit add assistants/support --description "Support agent"
  promptgit add summarize --file ./summarize.yaml -m "Add summarizer"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			if content == nil {
				if name == "" {
					name = path.Base(loader.Identity(args[0]))
				}
				if content, err = manifest.Scaffold(name, description, template); err != nil {
					return err
				}
			}
			return a.withRegistry(func(reg *registry.Registry) error {
				pub, err := reg.AddArtifact(cmd.Context(), args[0], content, message)
				if err != nil {
					return err
				}
				return writePublication(cmd.OutOrStdout(), "added", pub)
			})
		},
	}
	c.Flags().StringVarP(&file, "file", "f", "", `artifact file to add, or "-" for stdin`)
	c.Flags().StringVar(&name, "name", "", "artifact name for the scaffold (default last path segment)")
	c.Flags().StringVar(&description, "description", "", "description for the scaffold")
	c.Flags().StringVar(&template, "template", "", "template for the scaffold")
	c.Flags().StringVarP(&message, "message", "m", "", `commit message (default "Add artifact: <path>")`)
	return c
}

func (a *app) editCommand() *cobra.Command {
	var file, bump, message string
	c := &cobra.Command{
		Use:   "edit <path>",
		Short: "Commit a new revision of an artifact with a bumped version",
		Long: `Edit commits the artifact as it is in the working copy, or the contents of --file,
with its version bumped relative to the last committed revision, and tags the commit
<path>/v<version>.`,
		Example: `  promptgit edit assistants/support
  promptgit edit summarize --file ./summarize.yaml --bump minor`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			return a.withRegistry(func(reg *registry.Registry) error {
				pub, err := reg.UpdateArtifact(cmd.Context(), args[0], content, bump, message)
				if err != nil {
					return err
				}
				return writePublication(cmd.OutOrStdout(), "updated", pub)
			})
		},
	}
	c.Flags().StringVarP(&file, "file", "f", "", `new artifact contents, or "-" for stdin (default the working copy file)`)
	c.Flags().StringVar(&bump, "bump", "patch", "version part to bump: major, minor or patch")
	c.Flags().StringVarP(&message, "message", "m", "", `commit message (default "Update <path> to v<version>")`)
	return c
}

func (a *app) deleteCommand() *cobra.Command {
	var message string
	c := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete an artifact and commit the removal",
		Long:  `Delete removes the artifact file from the working copy and commits it. Version tags stay.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry) error {
				pub, err := reg.RemoveArtifact(cmd.Context(), args[0], message)
				if err != nil {
					return err
				}
				return writePublication(cmd.OutOrStdout(), "deleted", pub)
			})
		},
	}
	c.Flags().StringVarP(&message, "message", "m", "", `commit message (default "Remove artifact: <path>")`)
	return c
}

// readContent returns the bytes of file, stdin for "-", or nil when file is empty.
func readContent(cmd *cobra.Command, file string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch file {
	case "":
		return nil, nil
	case "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(file) // #nosec G304 -- path is given by the user on the command line
	}
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "reading artifact file")
	}
	return data, nil
}

func writePublication(w io.Writer, verb string, pub versioning.Publication) error {
	if pub.Tag == "" {
		_, err := fmt.Fprintf(w, "%s %s (%s)\n", verb, pub.Path, promptgit.ShortHash(pub.Hash))
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s v%s as %s (%s)\n", verb, pub.Path, pub.Version, pub.Tag, promptgit.ShortHash(pub.Hash))
	return err
}
