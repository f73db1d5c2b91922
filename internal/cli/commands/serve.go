package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/httpapi"
	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
	"github.com/identi-digital/identi-modules-sub000/internal/web/server"
)

func newServeCommand(opts *options) *cobra.Command {
	var (
		port       int
		skipTables bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the form HTTP API",
		Long: `Serve the form HTTP API.

The service tables are created on startup unless --skip-init is given.
The server drains in-flight requests on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if !skipTables {
				if err := store.Initialize(ctx, db); err != nil {
					return err
				}
			}

			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			catalogCache, closeCache := openCache(ctx, cfg, logger)
			svc := newService(db, registry, cfg, catalogCache, logger)

			serverConfig := server.DefaultConfig(httpapi.NewRouter(svc, logger))
			serverConfig.Address = cfg.Server.Address()
			pool := server.DefaultDatabaseConfig(db)
			if cfg.Database.MaxOpenConns > 0 {
				pool.MaxOpenConns = cfg.Database.MaxOpenConns
			}
			serverConfig.Database = pool

			srv, err := server.New(serverConfig, logger)
			if err != nil {
				return err
			}
			srv.RegisterHook(func(context.Context) error {
				return closeCache()
			})

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Serving forms on %s\n", cfg.Server.Address())
			logger.Info("starting form service",
				zap.Strings("entities", registry.List()),
				zap.String("catalog", catalogLabel(cfg.Catalog.Path)),
			)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&skipTables, "skip-init", false, "Do not create the service tables on startup")
	return cmd
}

func catalogLabel(path string) string {
	if path == "" {
		return "bundled"
	}
	return path
}
