package commands

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/identi-digital/identi-modules-sub000/internal/cli/ui"
	"github.com/identi-digital/identi-modules-sub000/internal/form/drift"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
)

func newSignatureCommand(opts *options) *cobra.Command {
	var (
		definitions string
		offline     bool
	)

	cmd := &cobra.Command{
		Use:   "signature ENTITY",
		Short: "Show the attributes and signature digest of an entity",
		Long: `Show the attributes and signature digest of an entity.

The digest changes whenever a change to the entity would recompile the
forms built on it. With --offline only declared entities are described
and no database is opened.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if definitions != "" {
				cfg.Entities.Path = definitions
			}

			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			var columns introspect.ColumnSource
			if !offline {
				db, err := openDB(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				columns = introspect.NewPGCatalog(db)
			}

			desc, err := introspect.New(registry, columns, logger).Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSignature(cmd, desc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&definitions, "definitions", "d", "", "Entity definitions file (overrides entities.path)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Describe declared entities without a database")
	return cmd
}

func printSignature(cmd *cobra.Command, desc *introspect.EntityDescription) {
	out := cmd.OutOrStdout()

	table := ui.NewTable(out, color.NoColor, "Name", "Type", "Nullable", "Unique", "References")
	for _, attr := range desc.Attributes {
		table.AddRow(attr.Name, string(attr.SemanticType), yesNo(attr.Nullable), yesNo(attr.Unique), attr.ForeignEntity)
	}
	for _, rel := range desc.Relations {
		table.AddRow(rel.Name, string(introspect.Entity), "yes", "no", rel.TargetEntity+" via "+rel.JoinTable)
	}
	table.Render()
	fmt.Fprintln(out)

	summary := ui.NewKeyValueTable(out, color.NoColor)
	summary.AddRow("Entity", desc.Entity)
	summary.AddRow("Table", desc.Table)
	summary.AddRow("Declared", strconv.FormatBool(desc.Declared))
	summary.AddRow("Digest", drift.FromAttributes(desc.Attributes).Digest())
	summary.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
