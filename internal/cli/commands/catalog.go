package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/cli/ui"
	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
)

func newCatalogCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and import the tool catalog",
	}
	cmd.AddCommand(newCatalogListCommand(opts))
	cmd.AddCommand(newCatalogImportCommand(opts))
	return cmd
}

func newCatalogListCommand(opts *options) *cobra.Command {
	var (
		file    string
		bundled bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tool templates in catalog order",
		Long: `List tool templates in catalog order.

By default the stored catalog is listed. --bundled lists the catalog
shipped with the binary and --file reads a catalog file; neither needs
a database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var templates []tools.ToolTemplate
			var err error
			if bundled || file != "" {
				templates, err = tools.BundledSource{Path: file}.Load(cmd.Context())
			} else {
				templates, err = loadStoredCatalog(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(templates) == 0 {
				color.New(color.FgYellow).Fprintln(out, "The tool catalog is empty")
				return nil
			}
			table := ui.NewTable(out, color.NoColor, "ID", "Name", "Type", "Options")
			for _, tpl := range templates {
				table.AddRow(tpl.ID, tpl.Name, tpl.GatherConfig.SemanticType, fmt.Sprint(len(tpl.GatherConfig.Options)))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Read the catalog from a YAML or JSON file")
	cmd.Flags().BoolVar(&bundled, "bundled", false, "List the catalog shipped with the binary")
	return cmd
}

func loadStoredCatalog(ctx context.Context, opts *options) ([]tools.ToolTemplate, error) {
	cfg, logger, err := opts.load()
	if err != nil {
		return nil, err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return store.NewToolStore(db).Load(ctx)
}

func newCatalogImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Store the templates of a catalog file",
		Long: `Store the templates of a catalog file.

Templates are upserted by id and keep the file's order. The cached
catalog snapshot is dropped so the next compilation reads the new one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := tools.BundledSource{Path: args[0]}.Load(cmd.Context())
			if err != nil {
				return err
			}

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

			if err := importCatalog(cmd.Context(), db, templates); err != nil {
				return err
			}

			catalogCache, closeCache := openCache(cmd.Context(), cfg, logger)
			defer closeCache() //nolint:errcheck
			if err := catalogCache.Delete(cmd.Context(), tools.DefaultCacheKey); err != nil {
				logger.Warn("failed to invalidate catalog snapshot", zap.Error(err))
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Imported %d templates\n", len(templates))
			return nil
		},
	}
}

func importCatalog(ctx context.Context, db *sql.DB, templates []tools.ToolTemplate) error {
	if err := store.Initialize(ctx, db); err != nil {
		return err
	}
	return store.NewToolStore(db).Save(ctx, templates)
}
