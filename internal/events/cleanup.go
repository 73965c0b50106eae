// Path: internal/events/cleanup.go
package events

import (
	"errors"
	"fmt"
)

// CleanupStep names one independent part of unregistering a channel.
type CleanupStep string

const (
	StepCloseHandle CleanupStep = "close_handle"
	StepUserIndex   CleanupStep = "user_index"
	StepRecord      CleanupStep = "record"
	StepMarker      CleanupStep = "marker"
)

// StepOutcome is the result of one cleanup step. Skipped steps had nothing to
// act on (no local handle, no owner).
type StepOutcome struct {
	Step    CleanupStep
	Skipped bool
	Err     error
}

// CleanupResult collects the outcome of every unregister step. Steps run
// independently, so some may fail while the rest succeed.
type CleanupResult struct {
	ChannelID string
	Owner     string
	Local     bool
	Steps     []StepOutcome
}

func (r *CleanupResult) record(step CleanupStep, err error) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Err: err})
}

func (r *CleanupResult) skip(step CleanupStep) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Skipped: true})
}

// OK reports whether no step failed.
func (r CleanupResult) OK() bool {
	return r.Err() == nil
}

// Failed lists the steps that returned an error.
func (r CleanupResult) Failed() []CleanupStep {
	var failed []CleanupStep
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Step)
		}
	}
	return failed
}

// Err joins the errors of all failed steps, or returns nil.
func (r CleanupResult) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Step, s.Err))
		}
	}
	return errors.Join(errs...)
}
