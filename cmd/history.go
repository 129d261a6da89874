package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/audit"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(deps *Deps) *cobra.Command {
	var (
		templateKey string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history <file-id>",
		Short: "Show recorded apply runs for a file",
		Long: `Show the metadata apply runs recorded for a Box file, newest first.

History is only kept when database.url (BOXBRIDGE_DATABASE_URL) is set.

Examples:
  boxbridge history 1234567890
  boxbridge history 1234567890 --template invoice -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return errors.New("apply history is disabled: set database.url or BOXBRIDGE_DATABASE_URL")
			}

			logger := newLogger(cfg, c.ErrOrStderr())
			_, repo, closeDB, err := openHistory(c.Context(), cfg, deps, false, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			runs, err := loadRuns(c, repo, args[0], templateKey, limit)
			if err != nil {
				return err
			}
			logger.Debug("Loaded apply history", logging.FileID(args[0]), logging.F("runs", len(runs)))

			return WriteOutput(c.OutOrStdout(), cfg.Output, runs, func(w io.Writer) error {
				return printRuns(w, runs)
			})
		},
	}

	cmd.Flags().StringVarP(&templateKey, "template", "t", "", "Only show the latest run of this template")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")

	return cmd
}

func loadRuns(c *cobra.Command, repo *audit.Repository, fileID, templateKey string, limit int) ([]audit.Run, error) {
	if templateKey == "" {
		runs, err := repo.ListByFile(c.Context(), fileID, limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []audit.Run{}
		}
		return runs, nil
	}

	run, err := repo.Latest(c.Context(), fileID, templateKey)
	if err != nil {
		return nil, fmt.Errorf("loading latest %s run: %w", templateKey, err)
	}
	if run == nil {
		return []audit.Run{}, nil
	}
	return []audit.Run{*run}, nil
}

func printRuns(w io.Writer, runs []audit.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No apply runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTEMPLATE\tOPERATION\tSTATUS\tSCORE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			r.CreatedAt.Local().Format(time.RFC3339), r.TemplateKey, r.Operation, r.Status, r.Score, r.Error)
	}
	return tw.Flush()
}
