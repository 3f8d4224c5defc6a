package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/dbutil"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ai_models (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  version TEXT NOT NULL,
  description TEXT NULL,
  model_type TEXT NOT NULL,
  architecture TEXT NULL,
  accuracy DOUBLE PRECISION NULL,
  confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_deprecated BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (name, version)
)`,
	`CREATE TABLE IF NOT EXISTS images (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  filepath TEXT NOT NULL,
  file_size BIGINT NOT NULL,
  mime_type TEXT NOT NULL,
  width INTEGER NULL,
  height INTEGER NULL,
  modality TEXT NULL,
  patient_id TEXT NULL,
  study_date TEXT NULL,
  is_processed BOOLEAN NOT NULL DEFAULT FALSE,
  uploaded_by TEXT NULL,
  description TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_images_modality ON images (modality)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  id TEXT PRIMARY KEY,
  image_id TEXT NOT NULL,
  ai_model_id TEXT NOT NULL,
  status TEXT NOT NULL,
  progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  confidence_score DOUBLE PRECISION NULL,
  results_payload JSONB NULL,
  error_code TEXT NULL,
  error_message TEXT NULL,
  processing_time_seconds DOUBLE PRECISION NULL,
  requested_by TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_status ON analysis_results (status)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_requested_by ON analysis_results (requested_by)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_created ON analysis_results (created_at DESC)`,
}

// Migrate creates the tables and installs the seed models when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	const q = `
INSERT INTO ai_models
(id, name, version, description, model_type, architecture, accuracy,
 confidence_threshold, is_active, is_deprecated, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT DO NOTHING`
	for _, m := range aimodels.Seed(time.Now().UTC()) {
		if _, err := db.ExecContext(ctx, q,
			m.ID, m.Name, m.Version, dbutil.NullString(m.Description), string(m.Type), dbutil.NullString(m.Architecture),
			dbutil.NullFloat(m.Accuracy), m.ConfidenceThreshold, m.IsActive, m.IsDeprecated, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("seed model %s: %w", m.Name, err)
		}
	}
	return nil
}
