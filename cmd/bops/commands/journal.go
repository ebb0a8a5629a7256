package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/stores"
)

func newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the invocation journal",
		Long: `Inspect the SQLite invocation journal written when journal.enabled is set.

Every finished invocation is journaled with its input, output, status and
the node calls it made.`,
	}

	cmd.AddCommand(newJournalListCommand())
	cmd.AddCommand(newJournalShowCommand())
	cmd.AddCommand(newJournalStatsCommand())
	cmd.AddCommand(newJournalPruneCommand())

	return cmd
}

func newJournalListCommand() *cobra.Command {
	var (
		filter stores.InvocationFilter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled invocations, newest first",
		Example: `  # Last 20 invocations
  bops journal list --limit 20

  # Failed invocations of one operation in the last hour
  bops journal list --operation package-bop --status failed --since 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			journal, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			records, err := journal.ListInvocations(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}

			out := cmd.OutOrStdout()
			widths := []int{38, 24, 12, 12}
			fmt.Fprintln(out, headerStyle.Render(row(widths, "INVOCATION", "OPERATION", "STATUS", "DURATION", "STARTED")))
			fmt.Fprintln(out, rule(append(widths, 25)))
			for _, r := range records {
				fmt.Fprintln(out, row(widths,
					r.ID,
					r.Operation,
					statusStyle(r.Status).Render(r.Status),
					r.Duration.Round(time.Microsecond).String(),
					r.StartedAt.Local().Format(time.RFC3339),
				))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter.Operation, "operation", "o", "", "only invocations of this operation")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only invocations with this status (succeeded, failed, timeout)")
	cmd.Flags().StringVar(&filter.ParentID, "parent", "", "only nested invocations of this invocation")
	cmd.Flags().DurationVar(&since, "since", 0, "only invocations started within this duration")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", stores.DefaultListLimit, "maximum number of invocations")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of invocations to skip")

	return cmd
}

func newJournalShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <invocation-id>",
		Short: "Show one invocation with its node calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			journal, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			record, err := journal.GetInvocation(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), record)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(record.Operation), statusStyle(record.Status).Render(record.Status))
			fmt.Fprintf(out, "  id:       %s\n", record.ID)
			if record.ParentID != "" {
				fmt.Fprintf(out, "  parent:   %s\n", record.ParentID)
			}
			fmt.Fprintf(out, "  started:  %s\n", record.StartedAt.Local().Format(time.RFC3339Nano))
			fmt.Fprintf(out, "  duration: %s\n", record.Duration)
			if record.Error != "" {
				fmt.Fprintf(out, "  error:    %s\n", errorStyle.Render(record.Error))
			}

			fmt.Fprintln(out)
			widths := []int{6, 30, 12, 10, 12}
			fmt.Fprintln(out, headerStyle.Render(row(widths, "NODE", "REFERENCE", "KIND", "MODE", "DURATION", "ERROR")))
			fmt.Fprintln(out, rule(append(widths, 20)))
			for _, call := range record.NodeCalls {
				fmt.Fprintln(out, row(widths,
					fmt.Sprint(call.Key),
					call.Reference,
					string(call.Kind),
					call.Mode,
					call.Duration.Round(time.Microsecond).String(),
					errorStyle.Render(call.Error),
				))
			}
			return nil
		},
	}
}

func newJournalStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the journal per operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			journal, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			stats, err := journal.Stats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}

			out := cmd.OutOrStdout()
			widths := []int{24, 8, 11, 8, 9}
			fmt.Fprintln(out, headerStyle.Render(row(widths, "OPERATION", "TOTAL", "SUCCEEDED", "FAILED", "TIMEOUT", "AVG")))
			fmt.Fprintln(out, rule(append(widths, 12)))
			for _, s := range stats {
				fmt.Fprintln(out, row(widths,
					s.Operation,
					fmt.Sprint(s.Total),
					successStyle.Render(fmt.Sprint(s.Succeeded)),
					errorStyle.Render(fmt.Sprint(s.Failed)),
					warningStyle.Render(fmt.Sprint(s.TimedOut)),
					s.AvgDuration.Round(time.Microsecond).String(),
				))
			}
			return nil
		},
	}
}

func newJournalPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old invocations",
		Example: `  # Keep one week of history
  bops journal prune --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			journal, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			deleted, err := journal.DeleteInvocationsBefore(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			a.logger.WithFields(map[string]any{
				"deleted":    deleted,
				"older_than": olderThan.String(),
			}).Info("Journal pruned")
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d invocation(s)\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete invocations started before now minus this duration")

	return cmd
}
