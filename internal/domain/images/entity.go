package images

import "time"

// Image is the metadata record of an uploaded medical image. The bytes live
// in a BlobStore under StorageKey.
type Image struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"filepath"`
	FileSize    int64     `json:"file_size"`
	MimeType    string    `json:"mime_type"`
	Width       *int      `json:"width,omitempty"`
	Height      *int      `json:"height,omitempty"`
	Modality    string    `json:"modality,omitempty"`
	PatientID   string    `json:"patient_id,omitempty"`
	StudyDate   string    `json:"study_date,omitempty"`
	IsProcessed bool      `json:"is_processed"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter narrows List queries.
type Filter struct {
	Modality   string
	UploadedBy string
	Skip     int
	Limit    int
}
