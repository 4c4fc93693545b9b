package cmd

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var current string
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the bump, next version, sections and changelog as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "yaml" {
				return errors.Newf("unknown format %q, expected json or yaml", format)
			}

			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if current == "" {
				current = s.from
			}

			report, err := s.release.Report(cmd.Context(), s.from, s.to, current)
			if err != nil {
				return err
			}

			if format == "yaml" {
				encoder := yaml.NewEncoder(cmd.OutOrStdout())
				defer encoder.Close()
				return encoder.Encode(report)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(report)
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "current version (default the --from tag)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")

	return cmd
}
