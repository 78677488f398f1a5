package engine

import (
	"testing"
	"time"

	"github.com/tendant/simple-modernizer/internal/lang"
)

func TestJobAdvance(t *testing.T) {
	target, _ := lang.Get("CSHARP")

	t.Run("linear path", func(t *testing.T) {
		job := NewJob("a.vb", target, "m")
		if job.State != StatePending {
			t.Fatalf("new job state = %q", job.State)
		}
		for _, next := range []State{StateAssembling, StateInvoking, StateExtracting, StateStamping, StateValidating, StateValidated} {
			if err := job.advance(next); err != nil {
				t.Fatalf("advance to %q: %v", next, err)
			}
			if job.State != next {
				t.Fatalf("state = %q after advancing to %q", job.State, next)
			}
		}
	})

	t.Run("no stage skipping", func(t *testing.T) {
		job := NewJob("a.vb", target, "m")
		if err := job.advance(StateInvoking); err == nil {
			t.Error("pending -> invoking should be refused")
		}
		if job.State != StatePending {
			t.Errorf("refused transition mutated state to %q", job.State)
		}
	})

	t.Run("any active stage may reject", func(t *testing.T) {
		for _, from := range []State{StatePending, StateAssembling, StateInvoking, StateExtracting, StateStamping, StateValidating} {
			job := NewJob("a.vb", target, "m")
			job.State = from
			if err := job.advance(StateRejected); err != nil {
				t.Errorf("%q -> rejected: %v", from, err)
			}
		}
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		for _, terminal := range []State{StateValidated, StateRejected} {
			job := NewJob("a.vb", target, "m")
			job.State = terminal
			for _, next := range []State{StateAssembling, StateInvoking, StateValidated, StateRejected} {
				if err := job.advance(next); err == nil {
					t.Errorf("%q -> %q should be refused", terminal, next)
				}
			}
		}
	})
}

func TestTerminal(t *testing.T) {
	for s, want := range map[State]bool{
		StatePending:    false,
		StateInvoking:   false,
		StateValidating: false,
		StateValidated:  true,
		StateRejected:   true,
	} {
		if got := Terminal(s); got != want {
			t.Errorf("Terminal(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestReportCounts(t *testing.T) {
	r := &Report{RunID: "run-9"}
	r.Append(Outcome{SourcePath: "a.vb", State: StateValidated})
	r.Append(Outcome{SourcePath: "b.vb", State: StateRejected, FailedStage: StateValidating})
	r.Append(Outcome{SourcePath: "c.vb", State: StateValidated})

	if r.Passed() {
		t.Error("report with a rejection should not pass")
	}
	validated, rejected := r.Counts()
	if validated != 2 || rejected != 1 {
		t.Errorf("Counts = (%d, %d)", validated, rejected)
	}

	all := &Report{}
	all.Append(Outcome{State: StateValidated})
	if !all.Passed() {
		t.Error("all-validated report should pass")
	}
	if !(&Report{}).Passed() {
		t.Error("empty report should pass")
	}
}

func TestReportVerdict(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	r := &Report{RunID: "run-3"}
	r.Append(Outcome{SourcePath: "a.vb", State: StateValidated})
	r.finish(at)
	if r.Verdict != VerdictPass {
		t.Errorf("Verdict = %q, want %q", r.Verdict, VerdictPass)
	}
	if !r.FinishedAt.Equal(at) {
		t.Errorf("FinishedAt = %v, want %v", r.FinishedAt, at)
	}

	r.Append(Outcome{SourcePath: "b.vb", State: StateRejected, FailedStage: StateValidating})
	r.finish(at)
	if r.Verdict != VerdictFail {
		t.Errorf("Verdict = %q, want %q", r.Verdict, VerdictFail)
	}
}
