package ai

import "context"

// ReportRequest carries what the narrator needs to describe one finished analysis.
type ReportRequest struct {
	AnalysisID   string
	ModelName    string
	ModelVersion string
	ModelType    string
	Modality     string
	ResultsJSON  string
}

// Client turns structured analysis results into a clinician-facing narrative.
type Client interface {
	Narrate(ctx context.Context, req ReportRequest) (string, error)
}
