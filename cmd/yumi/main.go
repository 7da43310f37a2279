// Command yumi runs the Yumi Sugoi chat bot and its dashboard API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yumisugoi/yumi/common/environment"
	"github.com/yumisugoi/yumi/common/version"
	"github.com/yumisugoi/yumi/internal/yumi/observability"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:           "yumi",
	Short:         "Yumi Sugoi, a chat companion with memory and personas",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := environment.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		observability.Setup(
			environment.StringOr("YUMI_LOG_LEVEL", "info"),
			environment.StringOr("YUMI_LOG_FORMAT", "text"),
		)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.AddCommand(botCmd, dashboardCmd, serveCmd, migrateCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("yumi failed", "err", err)
		os.Exit(1)
	}
}
