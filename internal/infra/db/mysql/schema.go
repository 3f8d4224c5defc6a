package mysql

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
  id VARCHAR(36) PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  version VARCHAR(50) NOT NULL,
  description TEXT NULL,
  model_type VARCHAR(100) NOT NULL,
  architecture VARCHAR(255) NULL,
  accuracy DOUBLE NULL,
  confidence_threshold DOUBLE NOT NULL DEFAULT 0.5,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_deprecated BOOLEAN NOT NULL DEFAULT FALSE,
  created_at DATETIME(6) NOT NULL,
  UNIQUE KEY uq_model_version (name, version)
)`,
	`CREATE TABLE IF NOT EXISTS images (
  id VARCHAR(36) PRIMARY KEY,
  filename VARCHAR(255) NOT NULL,
  filepath VARCHAR(500) NOT NULL,
  file_size BIGINT NOT NULL,
  mime_type VARCHAR(100) NOT NULL,
  width INT NULL,
  height INT NULL,
  modality VARCHAR(50) NULL,
  patient_id VARCHAR(100) NULL,
  study_date VARCHAR(50) NULL,
  is_processed BOOLEAN NOT NULL DEFAULT FALSE,
  uploaded_by VARCHAR(100) NULL,
  description TEXT NULL,
  created_at DATETIME(6) NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  KEY idx_images_modality (modality)
)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
  id VARCHAR(36) PRIMARY KEY,
  image_id VARCHAR(36) NOT NULL,
  ai_model_id VARCHAR(36) NOT NULL,
  status VARCHAR(20) NOT NULL,
  progress_percentage DOUBLE NOT NULL DEFAULT 0,
  confidence_score DOUBLE NULL,
  results_payload JSON NULL,
  error_code VARCHAR(50) NULL,
  error_message TEXT NULL,
  processing_time_seconds DOUBLE NULL,
  requested_by VARCHAR(100) NULL,
  created_at DATETIME(6) NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  KEY idx_analysis_status (status),
  KEY idx_analysis_requested_by (requested_by),
  KEY idx_analysis_created (created_at)
)`,
}

// Migrate creates the tables and installs the seed models when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	const q = `
INSERT IGNORE INTO ai_models
(id, name, version, description, model_type, architecture, accuracy,
 confidence_threshold, is_active, is_deprecated, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`
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
