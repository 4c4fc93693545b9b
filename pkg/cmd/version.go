package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/release/pkg/semver"
)

var bumpColors = map[semver.Level]*color.Color{
	semver.Major:      color.New(color.FgRed, color.Bold),
	semver.Minor:      color.New(color.FgYellow, color.Bold),
	semver.Patch:      color.New(color.FgGreen, color.Bold),
	semver.Prerelease: color.New(color.FgCyan, color.Bold),
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	var current string
	var plain bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the semantic version bump of the range and the next version",
		Example: `  # Bump since the latest tag, next version computed from that tag
  release version

  # Plain output (for scripts)
  release version --plain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}

			bump, err := s.release.GetSemverBump(cmd.Context(), s.from, s.to)
			if err != nil {
				return err
			}

			if current == "" {
				current = s.from
			}

			next := ""
			if current != "" {
				next, err = semver.NextVersion(current, bump)
				if err != nil {
					s.logger.Warnf("Could not compute the next version from %q: %v", current, err)
				}
			}

			out := cmd.OutOrStdout()
			if plain {
				_, err = fmt.Fprintln(out, bump)
				return err
			}

			if bump == "" {
				_, err = fmt.Fprintln(out, color.New(color.Faint).Sprint("no release"))
				return err
			}

			c, ok := bumpColors[bump]
			if !ok {
				c = color.New(color.Bold)
			}
			fmt.Fprintf(out, "bump: %s\n", c.Sprint(bump))
			if next != "" {
				fmt.Fprintf(out, "next: %s\n", color.New(color.Bold).Sprint(next))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "current version (default the --from tag)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print only the bump, empty when there is no release")

	return cmd
}
