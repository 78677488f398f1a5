package engine

import (
	"time"

	"github.com/tendant/simple-modernizer/internal/gate"
)

// Outcome is the per-job record appended to the run report. Exactly one is
// recorded per input, validated or rejected.
type Outcome struct {
	SourcePath   string           `json:"source_path"`
	TargetLang   string           `json:"target_lang"`
	Model        string           `json:"model"`
	State        State            `json:"state"`
	FailedStage  State            `json:"failed_stage,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	FailureKind  string           `json:"failure_kind,omitempty"`
	Violations   []gate.Violation `json:"violations,omitempty"`
	PromptHash   string           `json:"prompt_hash,omitempty"`
	Attempts     int              `json:"attempts,omitempty"`
	LatencyMs    int64            `json:"latency_ms,omitempty"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
}

// Verdict is the run-level outcome recorded when a run completes.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Report is the append-only record of one run. It is written by a single
// goroutine; the engine processes jobs sequentially. The verdict is
// recorded only at completion, so a truncated report carries none.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Verdict    Verdict   `json:"verdict,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Report) Append(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// finish stamps the completion time and records the verdict. Any rejected
// job fails the run.
func (r *Report) finish(at time.Time) {
	r.FinishedAt = at
	r.Verdict = VerdictFail
	if r.Passed() {
		r.Verdict = VerdictPass
	}
}

// Passed reports whether every job validated. Any rejection fails the run.
func (r *Report) Passed() bool {
	for _, o := range r.Outcomes {
		if o.State != StateValidated {
			return false
		}
	}
	return true
}

// Counts returns how many outcomes validated and how many were rejected.
func (r *Report) Counts() (validated, rejected int) {
	for _, o := range r.Outcomes {
		if o.State == StateValidated {
			validated++
		} else {
			rejected++
		}
	}
	return validated, rejected
}
