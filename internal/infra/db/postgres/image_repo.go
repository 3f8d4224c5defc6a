package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/dbutil"
)

type ImageRepository struct{ db *sql.DB }

func NewImageRepository(db *sql.DB) *ImageRepository { return &ImageRepository{db: db} }

const imageColumns = `id, filename, filepath, file_size, mime_type, width, height, modality,
       patient_id, study_date, is_processed, uploaded_by, description, created_at, updated_at`

func (r *ImageRepository) Save(ctx context.Context, img *domain.Image) error {
	const q = `
INSERT INTO images
(id, filename, filepath, file_size, mime_type, width, height, modality,
 patient_id, study_date, is_processed, uploaded_by, description, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
 modality = EXCLUDED.modality,
 is_processed = EXCLUDED.is_processed,
 description = EXCLUDED.description,
 updated_at = EXCLUDED.updated_at;`
	_, err := r.db.ExecContext(ctx, q,
		img.ID, img.Filename, img.StorageKey, img.FileSize, img.MimeType, dbutil.NullInt(img.Width), dbutil.NullInt(img.Height),
		dbutil.NullString(img.Modality), dbutil.NullString(img.PatientID), dbutil.NullString(img.StudyDate), img.IsProcessed,
		dbutil.NullString(img.UploadedBy), dbutil.NullString(img.Description), img.CreatedAt, img.UpdatedAt,
	)
	return err
}

func (r *ImageRepository) Get(ctx context.Context, id string) (*domain.Image, error) {
	q := `SELECT ` + imageColumns + ` FROM images WHERE id=$1 LIMIT 1;`
	img, err := scanImage(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return img, err
}

func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ImageRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Image, error) {
	q := `SELECT ` + imageColumns + ` FROM images`
	var where []string
	var args []any
	if f.Modality != "" {
		args = append(args, f.Modality)
		where = append(where, fmt.Sprintf("modality = $%d", len(args)))
	}
	if f.UploadedBy != "" {
		args = append(args, f.UploadedBy)
		where = append(where, fmt.Sprintf("uploaded_by = $%d", len(args)))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, max(f.Skip, 0))
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	out := []*domain.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func scanImage(row dbutil.RowScanner) (*domain.Image, error) {
	var img domain.Image
	var w, h sql.NullInt64
	var modality, patient, study, by, desc sql.NullString
	if err := row.Scan(
		&img.ID, &img.Filename, &img.StorageKey, &img.FileSize, &img.MimeType, &w, &h, &modality,
		&patient, &study, &img.IsProcessed, &by, &desc, &img.CreatedAt, &img.UpdatedAt,
	); err != nil {
		return nil, err
	}
	img.Width, img.Height = dbutil.IntPtr(w), dbutil.IntPtr(h)
	img.Modality = modality.String
	img.PatientID = patient.String
	img.StudyDate = study.String
	img.UploadedBy = by.String
	img.Description = desc.String
	return &img, nil
}
