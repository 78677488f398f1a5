package engine

import (
	"fmt"

	"github.com/tendant/simple-modernizer/internal/lang"
)

// State is the lifecycle position of a conversion job. Transitions are
// strictly linear; any non-terminal state may fall to rejected.
type State string

const (
	StatePending    State = "pending"
	StateAssembling State = "assembling"
	StateInvoking   State = "invoking"
	StateExtracting State = "extracting"
	StateStamping   State = "stamping"
	StateValidating State = "validating"
	StateValidated  State = "validated"
	StateRejected   State = "rejected"
)

var allowedTransitions = map[State][]State{
	StatePending:    {StateAssembling, StateRejected},
	StateAssembling: {StateInvoking, StateRejected},
	StateInvoking:   {StateExtracting, StateRejected},
	StateExtracting: {StateStamping, StateRejected},
	StateStamping:   {StateValidating, StateRejected},
	StateValidating: {StateValidated, StateRejected},
}

func transitionAllowed(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func Terminal(s State) bool {
	return s == StateValidated || s == StateRejected
}

// Job is one source file moving through the pipeline.
type Job struct {
	SourcePath string
	Target     lang.Language
	Model      string
	OutputPath string

	// State is the single current lifecycle position. Mutated only
	// through advance.
	State State
	// Attempts counts backend calls made for this job.
	Attempts int
}

func NewJob(sourcePath string, target lang.Language, model string) *Job {
	return &Job{
		SourcePath: sourcePath,
		Target:     target,
		Model:      model,
		State:      StatePending,
	}
}

func (j *Job) advance(to State) error {
	if !transitionAllowed(j.State, to) {
		return fmt.Errorf("invalid transition %q -> %q for %s", j.State, to, j.SourcePath)
	}
	j.State = to
	return nil
}
