// Package audit keeps a history of metadata apply attempts per file.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/boxbridge/pkg/db"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/apply"
)

// Run statuses.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Run is one apply attempt of a template on a file.
type Run struct {
	ID          uuid.UUID       `json:"id" yaml:"id"`
	FileID      string          `json:"file_id" yaml:"file_id"`
	TemplateKey string          `json:"template_key" yaml:"template_key"`
	Operation   string          `json:"operation" yaml:"operation"`
	Status      string          `json:"status" yaml:"status"`
	Score       float64         `json:"score" yaml:"score"`
	Attributes  json.RawMessage `json:"attributes" yaml:"-"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
}

// FromResult builds a Run describing an apply result.
func FromResult(fileID string, score float64, res *apply.Result) Run {
	run := Run{
		ID:          uuid.New(),
		FileID:      fileID,
		TemplateKey: res.TemplateKey,
		Operation:   string(res.Operation),
		Score:       score,
		CreatedAt:   time.Now().UTC(),
	}
	switch {
	case res.Err != nil:
		run.Status = StatusFailed
		run.Error = res.Err.Error()
	case res.Operation == apply.OperationNoop:
		run.Status = StatusSkipped
	default:
		run.Status = StatusApplied
	}
	if attrs, err := json.Marshal(res.Attributes); err == nil {
		run.Attributes = attrs
	}
	return run
}

// Recorder persists apply runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// NopRecorder discards runs. Used when no database is configured.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(context.Context, Run) error { return nil }

// Repository stores runs in the apply_runs table.
type Repository struct {
	conn db.Conn
}

// NewRepository creates a repository on conn.
func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

// Record inserts a run.
func (r *Repository) Record(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	attrs := run.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO apply_runs (id, file_id, template_key, operation, status, score, attributes, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.conn.Exec(ctx, query,
		run.ID, run.FileID, run.TemplateKey, run.Operation, run.Status,
		run.Score, []byte(attrs), run.Error, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record apply run: %w", err)
	}
	return nil
}

// ListByFile returns the most recent runs for a file, newest first.
func (r *Repository) ListByFile(ctx context.Context, fileID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, file_id, template_key, operation, status, score, attributes, error, created_at
		FROM apply_runs
		WHERE file_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list apply runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apply runs: %w", err)
	}
	return runs, nil
}

// Latest returns the newest run for a file and template.
func (r *Repository) Latest(ctx context.Context, fileID, templateKey string) (*Run, error) {
	query := `
		SELECT id, file_id, template_key, operation, status, score, attributes, error, created_at
		FROM apply_runs
		WHERE file_id = $1 AND template_key = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	run, err := scanRun(r.conn.QueryRow(ctx, query, fileID, templateKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var attrs []byte
	err := row.Scan(&run.ID, &run.FileID, &run.TemplateKey, &run.Operation, &run.Status,
		&run.Score, &attrs, &run.Error, &run.CreatedAt)
	if err == pgx.ErrNoRows {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("failed to scan apply run: %w", err)
	}
	run.Attributes = attrs
	return run, nil
}
