package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
)

// progressSteps are the checkpoints published between start and completion.
var progressSteps = []int{20, 40, 60, 80, 95}

const startProgress = 5

// run drives one analysis to a terminal state. Every exit path either leaves
// the record terminal or logs why it could not.
func (s *Service) run(ctx context.Context, id domain.ID) {
	defer metrics.WorkloadStarted()()
	log := s.log.With("analysis_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("workload panicked", "panic", r)
			s.systemFailure(id, fmt.Errorf("%v", r))
		}
	}()

	err := s.work(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrState):
		log.Debug("workload stopped, analysis already terminal")
	case errors.Is(err, domain.ErrNotFound):
		if ctx.Err() != nil {
			log.Debug("workload stopped, analysis removed")
			return
		}
		log.Error("analysis vanished during workload", "error", err)
	case ctx.Err() != nil:
		// cancel and delete mark the record before stopping us; anything
		// still active here was interrupted by shutdown
		cur, gerr := s.analyses.Get(context.WithoutCancel(ctx), id)
		if gerr != nil || cur.Status.IsTerminal() {
			log.Debug("workload stopped", "reason", context.Cause(ctx))
			return
		}
		s.systemFailure(id, fmt.Errorf("analysis interrupted: %w", context.Cause(ctx)))
	default:
		log.Error("workload failed", "error", err)
		s.systemFailure(id, err)
	}
}

func (s *Service) work(ctx context.Context, id domain.ID) error {
	a, err := s.analyses.Get(ctx, id)
	if err != nil {
		return err
	}
	model, err := s.models.Get(ctx, a.ModelID)
	if err != nil {
		return fmt.Errorf("load model %s: %w", a.ModelID, err)
	}

	if err := s.advance(ctx, id, startProgress, "Starting analysis..."); err != nil {
		return err
	}

	total := s.rnd.Duration(s.cfg.MinDuration, s.cfg.MaxDuration)
	step := total / time.Duration(len(progressSteps))
	for _, p := range progressSteps {
		if err := sleep(ctx, step); err != nil {
			return err
		}
		if err := s.advance(ctx, id, p, fmt.Sprintf("Processing... %d%%", p)); err != nil {
			return err
		}
	}

	if s.rnd.Float64() < s.cfg.FailureProbability {
		sc := failureScenarios[s.rnd.Between(0, len(failureScenarios)-1)]
		return s.fail(ctx, id, sc.Code, sc.Message)
	}

	results, confidence := generateResults(s.rnd, model)
	now := s.clock.Now()
	done, err := s.mutate(ctx, id, func(a *domain.Analysis) error {
		return a.Complete(results, confidence, total, now)
	}, func(a *domain.Analysis) Update {
		return Update{
			Status:          a.Status,
			Progress:        a.Progress,
			Message:         "Analysis complete!",
			Results:         a.Results,
			ConfidenceScore: a.ConfidenceScore,
		}
	})
	if err != nil {
		return err
	}
	metrics.AnalysisFinished(string(done.Status), "")
	s.log.Info("analysis complete", "analysis_id", id, "confidence", confidence, "took", total)
	return nil
}

func (s *Service) advance(ctx context.Context, id domain.ID, progress int, message string) error {
	now := s.clock.Now()
	_, err := s.mutate(ctx, id, func(a *domain.Analysis) error {
		return a.Advance(float64(progress), now)
	}, func(a *domain.Analysis) Update {
		return Update{Status: a.Status, Progress: a.Progress, Message: message}
	})
	return err
}

func (s *Service) fail(ctx context.Context, id domain.ID, code, message string) error {
	now := s.clock.Now()
	a, err := s.mutate(ctx, id, func(a *domain.Analysis) error {
		return a.Fail(code, message, now)
	}, failureUpdate)
	if err != nil {
		return err
	}
	metrics.AnalysisFinished(string(a.Status), code)
	s.log.Warn("analysis failed", "analysis_id", id, "code", code, "message", message)
	return nil
}

// systemFailure records an unexpected error as FAILED with SYSTEM_ERROR. A
// record still PENDING is moved through ANALYZING so the state machine holds.
func (s *Service) systemFailure(id domain.ID, cause error) {
	ctx := context.WithoutCancel(s.base)
	message := "Unexpected error: " + cause.Error()
	now := s.clock.Now()
	a, err := s.mutate(ctx, id, func(a *domain.Analysis) error {
		if a.Status == domain.StatusPending {
			if err := a.Advance(a.Progress, now); err != nil {
				return err
			}
		}
		return a.Fail(domain.CodeSystemError, message, now)
	}, failureUpdate)
	if err != nil {
		s.log.Error("could not record system failure", "analysis_id", id, "cause", cause, "error", err)
		return
	}
	metrics.AnalysisFinished(string(a.Status), domain.CodeSystemError)
	s.log.Error("analysis failed with system error", "analysis_id", id, "error", cause)
}

func failureUpdate(a *domain.Analysis) Update {
	return Update{
		Status:    a.Status,
		Progress:  a.Progress,
		Error:     a.ErrorMessage,
		ErrorCode: a.ErrorCode,
	}
}

// sleep is the workload's suspension point.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
