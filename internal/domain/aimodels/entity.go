package aimodels

import "time"

// Type categorizes a model and selects the result payload shape.
type Type string

const (
	TypeClassification Type = "classification"
	TypeSegmentation   Type = "segmentation"
	TypeDetection      Type = "detection"
)

// Model is one registered AI model version.
type Model struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Version             string    `json:"version"`
	Description         string    `json:"description,omitempty"`
	Type                Type      `json:"model_type"`
	Architecture        string    `json:"architecture,omitempty"`
	Accuracy            *float64  `json:"accuracy,omitempty"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	IsActive            bool      `json:"is_active"`
	IsDeprecated        bool      `json:"is_deprecated"`
	CreatedAt           time.Time `json:"created_at"`
}

// Seed is the registry installed into an empty store.
func Seed(now time.Time) []*Model {
	return []*Model{
		{
			ID:                  "b1f3c1a4-5d2e-4c1b-9a57-0c3f7c1e2a01",
			Name:                "Chest X-Ray Classifier",
			Version:             "1.0.0",
			Description:         "CNN model for detecting pneumonia in chest X-rays",
			Type:                TypeClassification,
			ConfidenceThreshold: 0.85,
			IsActive:            true,
			CreatedAt:           now,
		},
		{
			ID:                  "b1f3c1a4-5d2e-4c1b-9a57-0c3f7c1e2a02",
			Name:                "Brain MRI Segmentation",
			Version:             "2.1.0",
			Description:         "U-Net model for brain tumor segmentation in MRI scans",
			Type:                TypeSegmentation,
			ConfidenceThreshold: 0.90,
			IsActive:            true,
			CreatedAt:           now,
		},
		{
			ID:                  "b1f3c1a4-5d2e-4c1b-9a57-0c3f7c1e2a03",
			Name:                "CT Lung Nodule Detection",
			Version:             "1.5.2",
			Description:         "YOLO-based model for detecting lung nodules in CT scans",
			Type:                TypeDetection,
			ConfidenceThreshold: 0.75,
			IsActive:            true,
			CreatedAt:           now,
		},
	}
}
