package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/bryanwahyu/medimage-analyzer/internal/application"
	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/images"
)

// Config bounds what an upload may contain.
type Config struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// Service implements use-cases untuk Image
type Service struct {
	repo  domain.Repository
	blobs domain.BlobStore
	clock application.Clock
	log   *slog.Logger
	cfg   Config
	usage domain.UsageChecker
}

func NewService(repo domain.Repository, blobs domain.BlobStore, clock application.Clock, log *slog.Logger, cfg Config) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, clock: clock, log: log.With("component", "images"), cfg: cfg}
}

// SetUsageChecker makes Delete refuse images that are still referenced.
func (s *Service) SetUsageChecker(u domain.UsageChecker) { s.usage = u }

// UploadCommand carries one uploaded file and its form fields.
type UploadCommand struct {
	Filename    string
	Content     io.Reader
	Description string
	PatientID   string
	UploadedBy  string
}

// Upload validates, sniffs and stores one file, then records its metadata.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*domain.Image, error) {
	if strings.TrimSpace(cmd.Filename) == "" {
		return nil, fmt.Errorf("%w: No filename provided", domain.ErrInvalidUpload)
	}
	ext := strings.ToLower(filepath.Ext(cmd.Filename))
	if !s.allowed(ext) {
		return nil, fmt.Errorf("%w: File type %s not allowed. Supported types: %s",
			domain.ErrInvalidUpload, ext, strings.Join(s.cfg.AllowedExtensions, ", "))
	}

	data, err := io.ReadAll(io.LimitReader(cmd.Content, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: Maximum size: %d bytes", domain.ErrTooLarge, s.cfg.MaxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidUpload)
	}

	mime := mimetype.Detect(data)
	now := s.clock.Now()
	img := &domain.Image{
		ID:          uuid.NewString(),
		Filename:    cmd.Filename,
		FileSize:    int64(len(data)),
		MimeType:    mime.String(),
		PatientID:   cmd.PatientID,
		UploadedBy:  cmd.UploadedBy,
		Description: cmd.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := cfg.Width, cfg.Height
		img.Width, img.Height = &w, &h
	}
	img.Modality = DetectModality(cmd.Filename, mime.Is("application/dicom"))

	key := img.ID + ext
	loc, err := s.blobs.Put(ctx, key, bytes.NewReader(data), img.FileSize, img.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	img.StorageKey = loc

	if err := s.repo.Save(ctx, img); err != nil {
		if rmErr := s.blobs.Remove(ctx, loc); rmErr != nil {
			s.log.Warn("orphaned blob after failed save", "key", loc, "error", rmErr)
		}
		return nil, fmt.Errorf("save image: %w", err)
	}
	s.log.Info("image uploaded", "image_id", img.ID, "mime", img.MimeType, "bytes", img.FileSize, "modality", img.Modality)
	return img, nil
}

func (s *Service) allowed(ext string) bool {
	for _, a := range s.cfg.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Image, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f domain.Filter) ([]*domain.Image, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return s.repo.List(ctx, f)
}

// Open returns the image record and a reader over its bytes. The caller closes it.
func (s *Service) Open(ctx context.Context, id string) (*domain.Image, io.ReadCloser, error) {
	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, img.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open image %s: %w", id, err)
	}
	return img, rc, nil
}

// Delete removes the record first; a blob that cannot be removed is only logged.
func (s *Service) Delete(ctx context.Context, id string) error {
	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.usage != nil {
		used, err := s.usage.ImageInUse(ctx, id)
		if err != nil {
			return fmt.Errorf("check image usage: %w", err)
		}
		if used {
			return fmt.Errorf("%w: Cannot delete image with existing analysis results", domain.ErrInUse)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, img.StorageKey); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("failed to remove image blob", "image_id", id, "key", img.StorageKey, "error", err)
	}
	return nil
}

var modalityTerms = []struct {
	modality string
	terms    []string
}{
	{"CT", []string{"ct", "computed"}},
	{"MRI", []string{"mri", "magnetic"}},
	{"X-Ray", []string{"xray", "x-ray", "radiograph"}},
	{"Ultrasound", []string{"ultrasound", "us", "echo"}},
	{"PET", []string{"pet", "positron"}},
	{"Mammography", []string{"mammogram", "mammo"}},
}

// DetectModality guesses the imaging modality from the file name, falling
// back to DICOM when the content sniffed as DICOM.
func DetectModality(filename string, dicom bool) string {
	name := strings.ToLower(filepath.Base(filename))
	for _, m := range modalityTerms {
		for _, term := range m.terms {
			if strings.Contains(name, term) {
				return m.modality
			}
		}
	}
	if dicom {
		return "DICOM"
	}
	return ""
}
