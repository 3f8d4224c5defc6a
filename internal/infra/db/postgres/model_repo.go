package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/dbutil"
)

type ModelRepository struct{ db *sql.DB }

func NewModelRepository(db *sql.DB) *ModelRepository { return &ModelRepository{db: db} }

const modelColumns = `id, name, version, description, model_type, architecture, accuracy,
       confidence_threshold, is_active, is_deprecated, created_at`

func (r *ModelRepository) Save(ctx context.Context, m *domain.Model) error {
	const q = `
INSERT INTO ai_models
(id, name, version, description, model_type, architecture, accuracy,
 confidence_threshold, is_active, is_deprecated, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
 description = EXCLUDED.description,
 accuracy = EXCLUDED.accuracy,
 confidence_threshold = EXCLUDED.confidence_threshold,
 is_active = EXCLUDED.is_active,
 is_deprecated = EXCLUDED.is_deprecated;`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.Name, m.Version, dbutil.NullString(m.Description), string(m.Type), dbutil.NullString(m.Architecture),
		dbutil.NullFloat(m.Accuracy), m.ConfidenceThreshold, m.IsActive, m.IsDeprecated, m.CreatedAt,
	)
	return err
}

func (r *ModelRepository) Get(ctx context.Context, id string) (*domain.Model, error) {
	q := `SELECT ` + modelColumns + ` FROM ai_models WHERE id=$1 LIMIT 1;`
	m, err := scanModel(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *ModelRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Model, error) {
	q := `SELECT ` + modelColumns + ` FROM ai_models`
	if activeOnly {
		q += " WHERE is_active"
	}
	q += " ORDER BY name ASC, version DESC"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	out := []*domain.Model{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanModel(row dbutil.RowScanner) (*domain.Model, error) {
	var m domain.Model
	var typ string
	var desc, arch sql.NullString
	var acc sql.NullFloat64
	if err := row.Scan(
		&m.ID, &m.Name, &m.Version, &desc, &typ, &arch, &acc,
		&m.ConfidenceThreshold, &m.IsActive, &m.IsDeprecated, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.Type = domain.Type(typ)
	m.Description = desc.String
	m.Architecture = arch.String
	m.Accuracy = dbutil.FloatPtr(acc)
	return &m, nil
}
