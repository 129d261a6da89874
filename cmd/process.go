package cmd

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
)

// Process command flags.
type processOptions struct {
	templates   []string
	scope       string
	enqueue     bool
	requestedBy string
}

// NewProcessCommand creates the process command.
func NewProcessCommand(deps *Deps) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process <file-id>",
		Short: "Run the enrichment pipeline for one file",
		Long: `Run template selection, extraction and metadata apply for a Box file.

By default the pipeline runs in this process and the outcome is printed.
With --enqueue a reprocess request is put on the shared Redis queue for the
serve workers instead. No analytics record is sent for manual runs.

Examples:
  # Try every template in scope
  boxbridge process 1234567890

  # Only consider two templates
  boxbridge process 1234567890 --template invoice --template receipt

  # Hand the file to the running service
  boxbridge process 1234567890 --enqueue`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runProcess(c, deps, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.templates, "template", "t", nil, "Template key to consider (repeatable; default all templates in scope)")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Template scope to list from (default box.scope)")
	cmd.Flags().BoolVar(&opts.enqueue, "enqueue", false, "Queue a reprocess request instead of running here")
	cmd.Flags().StringVar(&opts.requestedBy, "requested-by", "", "Name recorded on queued requests (default current user)")

	return cmd
}

func runProcess(c *cobra.Command, deps *Deps, opts *processOptions, fileID string) error {
	ctx := c.Context()
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}
	out := c.OutOrStdout()

	if opts.enqueue {
		q, closeQueue, err := openRedisQueue(ctx, cfg, deps)
		if err != nil {
			return err
		}
		defer closeQueue()

		msg := &queues.ReprocessMessage{
			FileID:       fileID,
			TemplateKeys: opts.templates,
			RequestedBy:  requester(opts.requestedBy),
			RequestedAt:  time.Now().UTC(),
		}
		if err := q.Enqueue(msg); err != nil {
			return fmt.Errorf("queueing reprocess request: %w", err)
		}
		fmt.Fprintf(out, "Queued reprocess of file %s on %s\n", fileID, q.Name())
		return nil
	}

	if err := cfg.ValidateBox(); err != nil {
		return err
	}
	logger := newLogger(cfg, c.ErrOrStderr())

	client, err := deps.NewBox(cfg)
	if err != nil {
		return fmt.Errorf("creating box client: %w", err)
	}
	_, repo, closeDB, err := openHistory(ctx, cfg, deps, false, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	p, err := buildPipeline(cfg, client, logger, nil, pipeline.WithRecorder(recorderFor(repo)))
	if err != nil {
		return err
	}

	summary, err := p.Process(ctx, pipeline.Request{
		FileID:       fileID,
		Scope:        opts.scope,
		TemplateKeys: opts.templates,
	})
	if summary == nil {
		return err
	}
	if outErr := WriteOutput(out, cfg.Output, newSummaryView(summary), func(w io.Writer) error {
		return printSummary(w, summary)
	}); outErr != nil {
		return outErr
	}
	return err
}

func requester(flag string) string {
	if flag != "" {
		return flag
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// summaryView is the printable form of a pipeline summary.
type summaryView struct {
	FileID      string             `json:"file_id" yaml:"file_id"`
	TemplateKey string             `json:"template_key" yaml:"template_key"`
	Attributes  string             `json:"attributes" yaml:"attributes"`
	Applied     int                `json:"applied" yaml:"applied"`
	Failed      int                `json:"failed" yaml:"failed"`
	Scores      map[string]float64 `json:"scores" yaml:"scores"`
	Results     []resultView       `json:"results" yaml:"results"`
	DurationMs  int64              `json:"duration_ms" yaml:"duration_ms"`
}

type resultView struct {
	TemplateKey string `json:"template_key" yaml:"template_key"`
	Operation   string `json:"operation" yaml:"operation"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSummaryView(s *pipeline.Summary) summaryView {
	v := summaryView{
		FileID:      s.FileID,
		TemplateKey: s.TemplateKey,
		Attributes:  s.Attributes,
		Applied:     s.Applied(),
		Failed:      s.Failed(),
		Scores:      make(map[string]float64, len(s.Scores)),
		Results:     make([]resultView, 0, len(s.Results)),
		DurationMs:  s.Duration.Milliseconds(),
	}
	for k, score := range s.Scores {
		v.Scores[k] = float64(score)
	}
	for _, r := range s.Results {
		rv := resultView{TemplateKey: r.TemplateKey, Operation: string(r.Operation)}
		if r.Err != nil {
			rv.Error = r.Err.Error()
			if rv.Operation == "" {
				rv.Operation = "failed"
			}
		}
		v.Results = append(v.Results, rv)
	}
	return v
}

func printSummary(w io.Writer, s *pipeline.Summary) error {
	fmt.Fprintf(w, "File:      %s\n", s.FileID)
	if s.TemplateKey == "" {
		fmt.Fprintln(w, "Template:  (none applied)")
	} else {
		fmt.Fprintf(w, "Template:  %s\n", s.TemplateKey)
		fmt.Fprintf(w, "Values:    %s\n", s.Attributes)
	}
	fmt.Fprintf(w, "Duration:  %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Scores) > 0 {
		keys := make([]string, 0, len(s.Scores))
		for k := range s.Scores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "\nFill scores:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %-32s %.2f\n", k, float64(s.Scores[k]))
		}
	}

	if len(s.Results) > 0 {
		fmt.Fprintln(w, "\nApplied:")
		for _, r := range s.Results {
			status := string(r.Operation)
			if r.Err != nil {
				status = "failed: " + r.Err.Error()
			}
			fmt.Fprintf(w, "  %-32s %s\n", r.TemplateKey, strings.TrimSpace(status))
		}
	}
	return nil
}
