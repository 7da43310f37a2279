package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yumisugoi/yumi/common/environment"
	"github.com/yumisugoi/yumi/internal/yumi/app"
	"github.com/yumisugoi/yumi/internal/yumi/dashboard"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

func loadDashboardConfig() (dashboard.Config, error) {
	token, err := environment.RequiredString("DASHBOARD_TOKEN")
	if err != nil {
		return dashboard.Config{}, err
	}
	cfg := dashboard.Config{
		Addr:        environment.StringOr("DASHBOARD_ADDR", ":5000"),
		Token:       token,
		CORSOrigins: environment.StringSliceOr("DASHBOARD_CORS_ORIGINS", nil),
	}
	return cfg, cfg.Validate()
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the chat bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bot, err := app.New(ctx, app.LoadConfig(), slog.Default())
		if err != nil {
			return err
		}
		defer bot.Close()
		return bot.Run(ctx)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the dashboard API against the bot database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadDashboardConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()
		st, err := store.New(environment.StringOr("YUMI_DB_PATH", "yumi.db"), logger)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		table := persona.DefaultTable()
		deps := dashboard.Deps{
			Store:    st,
			Composer: persona.NewComposer(table, st, logger),
			Catalog:  persona.NewCatalog(table, st),
			Logger:   logger,
		}
		if url := environment.StringOr("REDIS_URL", ""); url != "" {
			bus, err := events.Dial(ctx, url, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer bus.Close()
			deps.Status, deps.Notifier = bus, bus
		}
		return dashboard.New(cfg, deps).Run(ctx)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the dashboard API in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		dcfg, err := loadDashboardConfig()
		if err != nil {
			return err
		}
		bot, err := app.New(cmd.Context(), app.LoadConfig(), slog.Default())
		if err != nil {
			return err
		}
		defer bot.Close()

		deps := dashboard.Deps{
			Store:    bot.Store(),
			Composer: bot.Composer(),
			Catalog:  bot.Catalog(),
			Notifier: bot.Commands(),
			Logger:   slog.Default(),
		}
		if src := bot.StatusSource(); src != nil {
			deps.Status = src
		}
		srv := dashboard.New(dcfg, deps)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return bot.Run(ctx) })
		g.Go(func() error { return srv.Run(ctx) })
		return g.Wait()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := environment.StringOr("YUMI_DB_PATH", "yumi.db")
		st, err := store.New(path, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()
		v, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", path, v)
		return nil
	},
}
