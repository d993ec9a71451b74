package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"claudesched/internal/core"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report native scheduler health and drift against the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.manager.Status(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scheduler:      %s (%s)\n", report.Scheduler, report.Native.Platform)
				fmt.Fprintf(out, "Healthy:        %t\n", report.Healthy())
				fmt.Fprintf(out, "Native entries: %d\n", report.Native.TaskCount)
				fmt.Fprintf(out, "Stored tasks:   %d (%d enabled)\n", report.StoredTasks, report.EnabledTasks)
				for _, e := range report.Native.Errors {
					fmt.Fprintf(out, "Error:          %s\n", e)
				}
				if len(report.Missing) > 0 {
					fmt.Fprintf(out, "Missing:        %s\n", strings.Join(report.Missing, ", "))
				}
				if len(report.Orphans) > 0 {
					fmt.Fprintf(out, "Orphans:        %s\n", strings.Join(report.Orphans, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Re-register enabled tasks and remove stale native entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.manager.Sync(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Registered:      %d\n", len(report.Registered))
				fmt.Fprintf(out, "Unregistered:    %d\n", len(report.Unregistered))
				fmt.Fprintf(out, "Orphans removed: %d\n", len(report.OrphansRemoved))
				for _, f := range report.Failures {
					fmt.Fprintf(out, "Failed to %s %s: %s\n", f.Op, f.TaskID, f.Error)
				}
				if !report.OK() {
					return fmt.Errorf("%d change(s) failed", len(report.Failures))
				}
				return nil
			})
		},
	}
}

func newPreviewCmd() *cobra.Command {
	var (
		count    int
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "preview <cron expression>",
		Short: "Show upcoming fire times of a cron expression",
		Example: `  claudesched preview "0 9 * * 1-5"
  claudesched preview "*/15 * * * *" --count 3 --timezone Europe/Berlin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Accept the expression unquoted as five arguments too.
			expr := strings.Join(args, " ")
			times, err := core.Preview(expr, timezone, time.Now(), count)
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format("2006-01-02 15:04 MST Mon"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (default local)")
	return cmd
}
