package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newChangelogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "changelog",
		Short: "Print the markdown changelog of the range",
		Example: `  # Changes since the latest tag
  release changelog

  # Changes between two tags
  release changelog --from v1.2.0 --to v1.3.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}

			doc, err := s.release.GenerateReleaseNotes(cmd.Context(), s.from, s.to)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.Markdown)
			return err
		},
	}
}
