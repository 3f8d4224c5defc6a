package analysis

import (
	"fmt"
	"math"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/domain/aimodels"
)

// ClassificationClasses are the labels a classification result can predict.
var ClassificationClasses = []string{"Normal", "Pneumonia", "Other_abnormality"}

var tumorLocations = []string{"frontal_lobe", "parietal_lobe", "temporal_lobe", "occipital_lobe"}

var malignancyRisks = []string{"low", "medium", "high"}

// failure is one simulated workload failure.
type failure struct {
	Code    string
	Message string
}

var failureScenarios = []failure{
	{domain.CodeModelError, "Model inference failed due to corrupted weights"},
	{domain.CodeMemoryError, "Insufficient GPU memory for processing"},
	{domain.CodeFormatError, "Unsupported image format or corrupted file"},
	{domain.CodeTimeoutError, "Analysis timed out after maximum processing time"},
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// generateResults builds a payload shaped by the model type along with its
// confidence score.
func generateResults(rnd *source, m *aimodels.Model) (domain.Results, float64) {
	confidence := rnd.Uniform(0.75, 0.98)
	out := domain.Results{
		"model_name":       m.Name,
		"model_version":    m.Version,
		"confidence_score": confidence,
	}

	switch m.Type {
	case aimodels.TypeClassification:
		out["prediction"] = map[string]any{
			"class":       rnd.Pick(ClassificationClasses),
			"probability": confidence,
			"class_probabilities": map[string]any{
				"Normal":            round(rnd.Uniform(0.1, 0.9), 3),
				"Pneumonia":         round(confidence, 3),
				"Other_abnormality": round(rnd.Uniform(0.05, 0.3), 3),
			},
		}
		out["regions_of_interest"] = []any{
			map[string]any{
				"x":          rnd.Between(100, 300),
				"y":          rnd.Between(150, 350),
				"width":      rnd.Between(80, 150),
				"height":     rnd.Between(80, 150),
				"confidence": round(rnd.Uniform(0.7, 0.95), 3),
			},
		}
		out["processing_metadata"] = map[string]any{
			"input_resolution":  "512x512",
			"preprocessing":     []string{"resize", "normalize", "augment"},
			"inference_time_ms": rnd.Between(200, 800),
		}

	case aimodels.TypeSegmentation:
		out["segmentation"] = map[string]any{
			"tumor_detected":  rnd.Bool(),
			"tumor_volume_ml": round(rnd.Uniform(0.5, 15.2), 2),
			"tumor_location":  rnd.Pick(tumorLocations),
			"mask_url":        "/api/v1/analysis/mask/example.png",
		}
		out["metrics"] = map[string]any{
			"dice_coefficient": round(rnd.Uniform(0.85, 0.95), 3),
			"jaccard_index":    round(rnd.Uniform(0.75, 0.88), 3),
			"sensitivity":      round(rnd.Uniform(0.88, 0.96), 3),
			"specificity":      round(rnd.Uniform(0.92, 0.98), 3),
		}
		out["processing_metadata"] = map[string]any{
			"input_slices":      rnd.Between(80, 200),
			"output_resolution": "256x256x128",
			"inference_time_ms": rnd.Between(2000, 5000),
		}

	case aimodels.TypeDetection:
		count := rnd.Between(0, 4)
		nodules := make([]any, 0, count)
		for i := 0; i < count; i++ {
			nodules = append(nodules, map[string]any{
				"id":              fmt.Sprintf("nodule_%d", i+1),
				"center":          []int{rnd.Between(50, 450), rnd.Between(50, 450), rnd.Between(10, 90)},
				"diameter_mm":     round(rnd.Uniform(3.2, 25.8), 1),
				"confidence":      round(rnd.Uniform(0.7, 0.95), 3),
				"malignancy_risk": rnd.Pick(malignancyRisks),
				"characteristics": map[string]any{
					"solid":      rnd.Bool(),
					"calcified":  rnd.Bool(),
					"spiculated": rnd.Bool(),
				},
			})
		}
		recommendations := []string{"No immediate follow-up required"}
		if count > 0 {
			recommendations[0] = "Follow-up CT scan in 6 months"
		}
		if count > 2 {
			recommendations = append(recommendations, "Consider PET scan if nodules show growth")
		}
		out["detection"] = map[string]any{
			"nodules_found":        count,
			"nodules":              nodules,
			"total_lung_volume_ml": math.Round(rnd.Uniform(4500, 6500)),
		}
		out["recommendations"] = recommendations
		out["processing_metadata"] = map[string]any{
			"ct_slices_processed": rnd.Between(200, 400),
			"detection_threshold": 0.5,
			"inference_time_ms":   rnd.Between(3000, 8000),
		}

	default:
		out["generic_output"] = map[string]any{
			"status":             "completed",
			"features_extracted": rnd.Between(512, 2048),
			"anomaly_score":      round(rnd.Uniform(0.1, 0.8), 3),
		}
		out["processing_metadata"] = map[string]any{
			"inference_time_ms": rnd.Between(500, 2000),
		}
	}
	return out, confidence
}
