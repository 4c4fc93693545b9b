package cmd

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/release/pkg/forge"
)

func newLabelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "Create or update the configured labels on the forge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}

			manager, ok := s.host.(forge.LabelManager)
			if !ok {
				return errors.New("the configured forge cannot manage labels")
			}

			synced, syncErr := s.release.SyncLabels(cmd.Context(), manager)
			for _, name := range synced {
				fmt.Fprintf(cmd.OutOrStdout(), "synced %s\n", name)
			}
			return syncErr
		},
	}
}
