package analysis

import (
	"fmt"
	"time"
)

// ID tipe untuk Analysis
type ID string

// Status enum
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAnalyzing Status = "ANALYZING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the allowed state machine edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusAnalyzing || to == StatusCancelled
	case StatusAnalyzing:
		return to == StatusComplete || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Results is the model-type dependent payload of a completed analysis.
type Results map[string]any

// Aggregate Root: Analysis
type Analysis struct {
	ID                ID        `json:"id"`
	ImageID           string    `json:"image_id"`
	ModelID           string    `json:"ai_model_id"`
	Status            Status    `json:"status"`
	Progress          float64   `json:"progress_percentage"`
	ConfidenceScore   *float64  `json:"confidence_score,omitempty"`
	Results           Results   `json:"results,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ProcessingSeconds *float64  `json:"processing_time_seconds,omitempty"`
	RequestedBy       string    `json:"requested_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	// denormalized for responses, never written back
	ImageFilename string `json:"image_filename,omitempty"`
	ModelName     string `json:"model_name,omitempty"`
	ModelVersion  string `json:"model_version,omitempty"`
}

// New builds a PENDING analysis with zero progress.
func New(id ID, imageID, modelID, requestedBy string, now time.Time) *Analysis {
	return &Analysis{
		ID:          id,
		ImageID:     imageID,
		ModelID:     modelID,
		Status:      StatusPending,
		Progress:    0,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep-enough copy so concurrent holders never share mutable state.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	if a.ConfidenceScore != nil {
		v := *a.ConfidenceScore
		c.ConfidenceScore = &v
	}
	if a.ProcessingSeconds != nil {
		v := *a.ProcessingSeconds
		c.ProcessingSeconds = &v
	}
	if a.Results != nil {
		c.Results = make(Results, len(a.Results))
		for k, v := range a.Results {
			c.Results[k] = v
		}
	}
	return &c
}

func (a *Analysis) transition(to Status) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: analysis %s is already %s", ErrState, a.ID, a.Status)
	}
	if a.Status != to && !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: invalid transition %s -> %s", ErrState, a.Status, to)
	}
	a.Status = to
	return nil
}

// Advance moves the analysis into ANALYZING (if needed) at the given progress.
// Progress never decreases while the analysis is active.
func (a *Analysis) Advance(progress float64, now time.Time) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %.2f outside [0,100]", ErrValidation, progress)
	}
	if err := a.transition(StatusAnalyzing); err != nil {
		return err
	}
	if progress < a.Progress {
		return fmt.Errorf("%w: progress cannot go back from %.2f to %.2f", ErrState, a.Progress, progress)
	}
	a.Progress = progress
	a.UpdatedAt = now
	return nil
}

// Complete records a successful result.
func (a *Analysis) Complete(results Results, confidence float64, took time.Duration, now time.Time) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f outside [0,1]", ErrValidation, confidence)
	}
	if err := a.transition(StatusComplete); err != nil {
		return err
	}
	secs := took.Seconds()
	a.Progress = 100
	a.ConfidenceScore = &confidence
	a.Results = results
	a.ProcessingSeconds = &secs
	a.ErrorCode = ""
	a.ErrorMessage = ""
	a.UpdatedAt = now
	return nil
}

// Fail records a terminal failure; partial progress is not retained.
func (a *Analysis) Fail(code, message string, now time.Time) error {
	if err := a.transition(StatusFailed); err != nil {
		return err
	}
	a.stop(code, message, now)
	return nil
}

// Cancel forces the CANCELLED state from PENDING or ANALYZING.
func (a *Analysis) Cancel(code, message string, now time.Time) error {
	if err := a.transition(StatusCancelled); err != nil {
		return err
	}
	a.stop(code, message, now)
	return nil
}

func (a *Analysis) stop(code, message string, now time.Time) {
	a.Progress = 0
	a.ErrorCode = code
	a.ErrorMessage = message
	a.Results = nil
	a.ConfidenceScore = nil
	a.UpdatedAt = now
}
