package main

import (
	"context"
	"fmt"
	"os"

	"bilancio/internal/cli"
	"bilancio/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "recurring-worker",
		Short: "Materializes due recurring transactions into expenses and incomes",
		Long: `recurring-worker turns recurring transaction templates into concrete
expense and income rows. It catches up on every missed occurrence, never
creates the same occurrence twice, and can run on a schedule or on demand.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(migrateCmd())
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	cli.LoadEnvFile()

	loaded, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	asJSON, _ := cmd.Flags().GetBool("log-json")
	cli.SetupLogger(level, asJSON)
	return nil
}
