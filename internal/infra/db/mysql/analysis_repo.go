package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/dbutil"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, image_id, ai_model_id, status, progress_percentage, confidence_score,
       results_payload, error_code, error_message, processing_time_seconds,
       requested_by, created_at, updated_at`

// Save insert/update Analysis record
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO analysis_results
(id, image_id, ai_model_id, status, progress_percentage, confidence_score,
 results_payload, error_code, error_message, processing_time_seconds,
 requested_by, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status),
 progress_percentage=VALUES(progress_percentage),
 confidence_score=VALUES(confidence_score),
 results_payload=VALUES(results_payload),
 error_code=VALUES(error_code), error_message=VALUES(error_message),
 processing_time_seconds=VALUES(processing_time_seconds),
 updated_at=VALUES(updated_at);
`
	payload, err := dbutil.JSONOrNull(a.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.ImageID, a.ModelID, string(a.Status), a.Progress, dbutil.NullFloat(a.ConfidenceScore),
		payload, dbutil.NullString(a.ErrorCode), dbutil.NullString(a.ErrorMessage), dbutil.NullFloat(a.ProcessingSeconds),
		dbutil.NullString(a.RequestedBy), a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (r *AnalysisRepository) Get(ctx context.Context, id domain.ID) (*domain.Analysis, error) {
	q := `SELECT ` + analysisColumns + ` FROM analysis_results WHERE id=? LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *AnalysisRepository) Delete(ctx context.Context, id domain.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List newest first with optional status / requester filters
func (r *AnalysisRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Analysis, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RequestedBy != "" {
		where = append(where, "requested_by = ?")
		args = append(args, f.RequestedBy)
	}
	if f.ImageID != "" {
		where = append(where, "image_id = ?")
		args = append(args, f.ImageID)
	}
	q := `SELECT ` + analysisColumns + ` FROM analysis_results`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Skip, 0))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	out := []*domain.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnalysis(row dbutil.RowScanner) (*domain.Analysis, error) {
	var a domain.Analysis
	var status string
	var conf, took sql.NullFloat64
	var payload, code, msg, by sql.NullString
	if err := row.Scan(
		&a.ID, &a.ImageID, &a.ModelID, &status, &a.Progress, &conf,
		&payload, &code, &msg, &took,
		&by, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	results, err := dbutil.DecodeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode results of %s: %w", a.ID, err)
	}
	a.Status = domain.Status(status)
	a.ConfidenceScore = dbutil.FloatPtr(conf)
	a.ProcessingSeconds = dbutil.FloatPtr(took)
	a.Results = results
	a.ErrorCode = code.String
	a.ErrorMessage = msg.String
	a.RequestedBy = by.String
	return &a, nil
}
