package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bryanwahyu/medimage-analyzer/internal/domain/ai"
)

// SystemPrompt frames the narrator as a radiology reporting assistant.
func SystemPrompt() string {
	return `You are a radiology reporting assistant. You receive the structured output of an automated medical image analysis and write a short, plain-text report for a clinician.

Requirements:
- Plain text only, no markdown and no code fences.
- Start with one line "Impression: ..." summarising the main finding.
- Follow with at most five short lines of supporting findings taken from the data.
- Mention the model name and version and the overall confidence as a percentage.
- Never invent findings that are not present in the data.
- End with the line "This report was generated automatically and must be reviewed by a qualified clinician."`
}

// UserPrompt renders one request for the model.
func UserPrompt(req ai.ReportRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis: %s\n", req.AnalysisID)
	fmt.Fprintf(&b, "Model: %s v%s (%s)\n", req.ModelName, req.ModelVersion, req.ModelType)
	if req.Modality != "" {
		fmt.Fprintf(&b, "Modality: %s\n", req.Modality)
	}
	b.WriteString("Results JSON:\n")
	b.WriteString(req.ResultsJSON)
	return b.String()
}

// Local writes a report from the results alone. It is used when no LLM
// provider is configured.
type Local struct{}

var _ ai.Client = Local{}

func (Local) Narrate(_ context.Context, req ai.ReportRequest) (string, error) {
	var res map[string]any
	if err := json.Unmarshal([]byte(req.ResultsJSON), &res); err != nil {
		return "", fmt.Errorf("decode results: %w", err)
	}

	var lines []string
	switch {
	case res["prediction"] != nil:
		p, _ := res["prediction"].(map[string]any)
		lines = append(lines, fmt.Sprintf("Impression: predicted class %v.", p["class"]))
		if probs, ok := p["class_probabilities"].(map[string]any); ok {
			for _, k := range sortedKeys(probs) {
				lines = append(lines, fmt.Sprintf("- %s probability %v", k, probs[k]))
			}
		}
	case res["segmentation"] != nil:
		s, _ := res["segmentation"].(map[string]any)
		if detected, _ := s["tumor_detected"].(bool); detected {
			lines = append(lines, fmt.Sprintf("Impression: lesion segmented in the %v, volume %v ml.",
				strings.ReplaceAll(fmt.Sprint(s["tumor_location"]), "_", " "), s["tumor_volume_ml"]))
		} else {
			lines = append(lines, "Impression: no tumor segmented.")
		}
		if m, ok := res["metrics"].(map[string]any); ok {
			lines = append(lines, fmt.Sprintf("- dice %v, sensitivity %v, specificity %v", m["dice_coefficient"], m["sensitivity"], m["specificity"]))
		}
	case res["detection"] != nil:
		d, _ := res["detection"].(map[string]any)
		lines = append(lines, fmt.Sprintf("Impression: %v nodule(s) detected.", d["nodules_found"]))
		if recs, ok := res["recommendations"].([]any); ok {
			for _, r := range recs {
				lines = append(lines, fmt.Sprintf("- %v", r))
			}
		}
	default:
		lines = append(lines, "Impression: analysis completed without a model-specific finding.")
	}

	conf, _ := res["confidence_score"].(float64)
	lines = append(lines,
		fmt.Sprintf("Model %s v%s, overall confidence %.1f%%.", req.ModelName, req.ModelVersion, conf*100),
		"This report was generated automatically and must be reviewed by a qualified clinician.",
	)
	return strings.Join(lines, "\n"), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
