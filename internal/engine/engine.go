// Package engine drives conversion jobs through the pipeline: assemble the
// prompt, invoke the model, extract the code, stamp the header, run the
// structural gate. Per-job failures are recorded and the run moves on;
// configuration and host failures abort the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-modernizer/internal/extract"
	"github.com/tendant/simple-modernizer/internal/gate"
	"github.com/tendant/simple-modernizer/internal/llm"
	"github.com/tendant/simple-modernizer/internal/prompt"
	"github.com/tendant/simple-modernizer/internal/stamp"
)

// Gateway is the model backend call. *llm.Client satisfies it; tests plug
// in a stub.
type Gateway interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error)
}

// Artifact is a validated, header-stamped translation ready for staging.
// The engine hands it out and keeps no copy.
type Artifact struct {
	Code       string
	Header     string
	PromptHash string
}

// LoadFunc fetches the source text for a job.
type LoadFunc func(*Job) (string, error)

// EmitFunc stages a validated artifact and returns where it went. A failed
// emit aborts the run; the report must not claim artifacts that were never
// stored.
type EmitFunc func(*Job, *Artifact) (string, error)

// Engine holds the per-run collaborators. Templates must be loaded and the
// gateway configured before the first job.
type Engine struct {
	Templates prompt.Templates
	Gateway   Gateway
	RunID     string
	Logger    *slog.Logger

	// Now is swapped out in tests. Nil means time.Now.
	Now func() time.Time
	// OnState, when set, observes every job state change.
	OnState func(*Job, State)
}

func (e *Engine) ready() error {
	if e.Templates.System == "" || e.Templates.Task == "" {
		return errors.New("prompt templates not loaded")
	}
	if e.Gateway == nil {
		return errors.New("no model gateway configured")
	}
	return nil
}

// Run drives jobs strictly in order and returns the aggregate report, one
// outcome per job. A configuration or staging error aborts the run and the
// partial report is returned alongside it.
func (e *Engine) Run(ctx context.Context, jobs []*Job, load LoadFunc, emit EmitFunc) (*Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	report := &Report{RunID: e.RunID, StartedAt: e.now()}
	for _, job := range jobs {
		source, err := load(job)
		if err != nil {
			if serr := e.setState(job, StateAssembling); serr != nil {
				return report, serr
			}
			report.Append(e.reject(job, fmt.Sprintf("load source: %v", err), "", nil, ""))
			continue
		}

		outcome, artifact, err := e.ConvertFile(ctx, job, source)
		if err != nil {
			return report, err
		}
		if artifact != nil && emit != nil {
			path, err := emit(job, artifact)
			if err != nil {
				return report, fmt.Errorf("store artifact for %s: %w", job.SourcePath, err)
			}
			outcome.ArtifactPath = path
		}
		report.Append(outcome)
	}
	report.finish(e.now())

	validated, rejected := report.Counts()
	e.logger().Info("run complete",
		"run_id", e.RunID,
		"jobs", len(jobs),
		"validated", validated,
		"rejected", rejected,
		"verdict", report.Verdict)
	return report, nil
}

// ConvertFile drives one job from pending to a terminal state. Pipeline
// failures land in the outcome; the returned error is reserved for a
// misconfigured engine.
func (e *Engine) ConvertFile(ctx context.Context, job *Job, source string) (Outcome, *Artifact, error) {
	if err := e.ready(); err != nil {
		return Outcome{}, nil, err
	}
	if job.Target.Name == "" {
		return Outcome{}, nil, fmt.Errorf("job %s has no target language", job.SourcePath)
	}

	log := e.logger().With("source", job.SourcePath, "target", job.Target.Name)

	if err := e.setState(job, StateAssembling); err != nil {
		return Outcome{}, nil, err
	}
	bundle := prompt.Assemble(e.Templates, job.Target, source)

	if err := e.setState(job, StateInvoking); err != nil {
		return Outcome{}, nil, err
	}
	resp, err := e.Gateway.Invoke(ctx, bundle.System, bundle.Task)
	if err != nil {
		kind := ""
		var failure *llm.Failure
		if errors.As(err, &failure) {
			job.Attempts = failure.Attempts
			kind = string(failure.Kind)
		}
		log.Error("model invocation failed", "attempts", job.Attempts, "err", err)
		return e.reject(job, err.Error(), kind, nil, bundle.Hash), nil, nil
	}
	job.Attempts = resp.Attempts

	if err := e.setState(job, StateExtracting); err != nil {
		return Outcome{}, nil, err
	}
	code, err := extract.Code(resp.Text)
	if err != nil {
		log.Warn("extraction failed", "err", err)
		return e.reject(job, err.Error(), "", nil, bundle.Hash), nil, nil
	}

	if err := e.setState(job, StateStamping); err != nil {
		return Outcome{}, nil, err
	}
	header := stamp.Header{
		RunID:      e.RunID,
		SourceFile: job.SourcePath,
		Model:      job.Model,
		Timestamp:  e.now(),
		PromptHash: bundle.Hash,
	}
	rendered := stamp.Render(header, job.Target)
	stamped := stamp.Apply(code, header, job.Target)

	if err := e.setState(job, StateValidating); err != nil {
		return Outcome{}, nil, err
	}
	result := gate.Evaluate(stamped, job.Target, rendered)
	if !result.Pass {
		log.Warn("structural validation failed", "violations", len(result.Violations))
		return e.reject(job, "structural validation failed", "", result.Violations, bundle.Hash), nil, nil
	}

	if err := e.setState(job, StateValidated); err != nil {
		return Outcome{}, nil, err
	}
	log.Info("conversion validated", "attempts", job.Attempts, "latency_ms", resp.Latency.Milliseconds())

	outcome := Outcome{
		SourcePath: job.SourcePath,
		TargetLang: job.Target.Name,
		Model:      job.Model,
		State:      StateValidated,
		PromptHash: bundle.Hash,
		Attempts:   job.Attempts,
		LatencyMs:  resp.Latency.Milliseconds(),
	}
	artifact := &Artifact{Code: stamped, Header: rendered, PromptHash: bundle.Hash}
	return outcome, artifact, nil
}

// reject moves the job to its terminal rejected state and builds the
// outcome. The stage that failed is the state the job was in when it fell.
func (e *Engine) reject(job *Job, reason, failureKind string, violations []gate.Violation, promptHash string) Outcome {
	failedAt := job.State
	if err := e.setState(job, StateRejected); err != nil {
		e.logger().Error("reject transition refused", "source", job.SourcePath, "err", err)
	}
	return Outcome{
		SourcePath:  job.SourcePath,
		TargetLang:  job.Target.Name,
		Model:       job.Model,
		State:       StateRejected,
		FailedStage: failedAt,
		Reason:      reason,
		FailureKind: failureKind,
		Violations:  violations,
		PromptHash:  promptHash,
		Attempts:    job.Attempts,
	}
}

func (e *Engine) setState(job *Job, to State) error {
	if err := job.advance(to); err != nil {
		return err
	}
	e.logger().Debug("job state", "source", job.SourcePath, "state", to)
	if e.OnState != nil {
		e.OnState(job, to)
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
