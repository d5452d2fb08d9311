package main

import (
	"encoding/json"
	"fmt"
	"time"

	"bilancio/internal/cli"
	"bilancio/internal/core"
	apphttp "bilancio/internal/http"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single pass and print its summary as JSON",
		Long: `Run materializes every occurrence owed at --now (default: the current
time) and exits. The exit status is non-zero when a record failed to persist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, false)
		},
	}
	cmd.Flags().String("now", "", "pass time as YYYY-MM-DD or RFC 3339 (default: current time)")
	return cmd
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which occurrences a pass would create, without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, true)
		},
	}
	cmd.Flags().String("now", "", "pass time as YYYY-MM-DD or RFC 3339 (default: current time)")
	return cmd
}

func runPass(cmd *cobra.Command, dryRun bool) error {
	ctx := cmd.Context()

	sched, err := cli.NewScheduler(ctx, cfg)
	if err != nil {
		return err
	}
	defer sched.Close()

	now := time.Now()
	if v, _ := cmd.Flags().GetString("now"); v != "" {
		if now, err = core.ParseInstant(v, sched.Location); err != nil {
			return err
		}
	}

	pass := sched.Processor.ProcessDue
	if dryRun {
		pass = sched.Processor.Preview
	}
	summary, passErr := pass(ctx, now)
	if summary == nil {
		return passErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(apphttp.NewSummaryResponse(summary, dryRun)); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	if passErr != nil {
		return passErr
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d recurring transaction(s) failed to persist", len(summary.Failures))
	}
	return nil
}
