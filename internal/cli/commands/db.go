package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
)

func newDBCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the service tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the schema, submission and tool catalog tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Initialize(cmd.Context(), db); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "✓ Service tables ready")
			return nil
		},
	})

	return cmd
}
