package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the shared event queue",
		Long: `Inspect and maintain the Redis event queue used by serve.

These commands need queue.backend=redis; the in-memory queue only exists
inside a running serve process (see GET /healthz).`,
	}

	cmd.AddCommand(newQueueStatsCommand(deps))
	cmd.AddCommand(newQueueRecoverCommand(deps))
	cmd.AddCommand(newQueueDeadLettersCommand(deps))

	return cmd
}

func newQueueStatsCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending, in-flight and dead-lettered counts",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			q, closeQueue, err := openRedisQueue(c.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer closeQueue()

			stats, err := q.Stats()
			if err != nil {
				return err
			}
			return WriteOutput(c.OutOrStdout(), cfg.Output, stats, func(w io.Writer) error {
				fmt.Fprintf(w, "Queue:        %s (%s)\n", stats.Name, stats.Backend)
				fmt.Fprintf(w, "Pending:      %d\n", stats.Pending)
				fmt.Fprintf(w, "Processing:   %d\n", stats.Processing)
				fmt.Fprintf(w, "Dead letter:  %d\n", stats.DeadLetter)
				return nil
			})
		},
	}
}

func newQueueRecoverCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return stale in-flight messages to the queue",
		Long: `Return messages whose visibility timeout expired to the queue.

A message stays in-flight when a worker crashes before acknowledging it.
Workers recover these themselves; this command forces a pass.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			q, closeQueue, err := openRedisQueue(c.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer closeQueue()

			n, err := q.RecoverStaleMessages()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Recovered %d stale message(s) on %s\n", n, q.Name())
			return nil
		},
	}
}

func newQueueDeadLettersCommand(deps *Deps) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "List dead-lettered messages, newest first",
		Args:    cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			q, closeQueue, err := openRedisQueue(c.Context(), cfg, deps)
			if err != nil {
				return err
			}
			defer closeQueue()

			entries, err := q.DeadLetters(limit)
			if err != nil {
				return err
			}
			return WriteOutput(c.OutOrStdout(), cfg.Output, entries, func(w io.Writer) error {
				return printDeadLetters(w, entries)
			})
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "Maximum entries to show")

	return cmd
}

func printDeadLetters(w io.Writer, entries []queues.DeadLetter) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Dead letter queue is empty.")
		return nil
	}
	for _, dl := range entries {
		fmt.Fprintf(w, "%s  %s\n", dl.MovedAt.Local().Format(time.RFC3339), dl.Reason)
		fmt.Fprintf(w, "  %s\n", dl.Message)
	}
	return nil
}
