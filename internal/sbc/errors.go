package sbc

import "fmt"

// ModelSpecificationError indicates the model cannot be simulated from:
// typically an observed variable whose shape cannot be inferred without
// real data. It is fatal and surfaced before any trial runs.
type ModelSpecificationError struct {
	Variable string
	Reason   string
}

func (e *ModelSpecificationError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("model specification: %s", e.Reason)
	}
	return fmt.Sprintf("model specification: variable %q: %s", e.Variable, e.Reason)
}

// InferenceFailure indicates one trial's posterior run produced no usable
// draws (total sampler failure, or non-convergence making results unusable
// by policy). It is recoverable at the run level: the trial is retried with
// a fresh prior draw up to the configured attempt budget.
type InferenceFailure struct {
	Reason string
	Err    error
}

func (e *InferenceFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("inference failure: %s", e.Reason)
}

func (e *InferenceFailure) Unwrap() error { return e.Err }

// ResumeInconsistencyError indicates a persisted run's configuration does
// not match the configuration of the run being resumed. Resuming is refused
// rather than silently merging incompatible data.
type ResumeInconsistencyError struct {
	RunID  string
	Detail string
}

func (e *ResumeInconsistencyError) Error() string {
	return fmt.Sprintf("cannot resume run %s: %s", e.RunID, e.Detail)
}
