// Package workflow drives free-form CRM requests through a fixed pipeline:
// resolve intent, validate fields, execute the derived action plan against
// a CRM backend, and send exactly one notification per run.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tjkivinen/crmflow/internal/intent"
)

// State names a stage in the run lifecycle.
type State string

const (
	StateStart      State = "start"
	StateResolving  State = "resolving"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateAborted    State = "aborted"
	StateNotifying  State = "notifying"
	StateDone       State = "done"
)

// transitions defines the legal lifecycle edges. Validation failures skip
// execution through the aborted branch but still reach notifying.
var transitions = map[State][]State{
	StateStart:      {StateResolving},
	StateResolving:  {StateValidating},
	StateValidating: {StateExecuting, StateAborted},
	StateExecuting:  {StateNotifying},
	StateAborted:    {StateNotifying},
	StateNotifying:  {StateDone},
	StateDone:       {},
}

// CanTransition reports whether moving between two states is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is one CRM step in a plan.
type Action string

const (
	ActionCreateContact        Action = "create_contact"
	ActionCreateDeal           Action = "create_deal"
	ActionAssociateDealContact Action = "associate_deal_to_contact"
)

// Plan is the ordered list of actions a validated request will execute.
type Plan []Action

// TerminalState summarizes a finished run.
type TerminalState string

const (
	// TerminalSucceeded means every planned action succeeded.
	TerminalSucceeded TerminalState = "succeeded"
	// TerminalPartiallySucceeded means some but not all actions succeeded.
	TerminalPartiallySucceeded TerminalState = "partially_succeeded"
	// TerminalFailed means no action succeeded, including runs validation
	// aborted before any action ran.
	TerminalFailed TerminalState = "failed"
)

// ActionResult records the outcome of one plan step. Attempts counts every
// try including the first; zero means the call was never made.
type ActionResult struct {
	Action     Action `json:"action"`
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Attempts   int    `json:"attempts"`
	Err        *Error `json:"error,omitempty"`
}

// Run is the full record of one request moving through the pipeline.
// Results holds at most one entry per plan action; Results[i] is always
// the outcome of Plan[i].
type Run struct {
	ID                    string           `json:"id"`
	RawText               string           `json:"raw_text"`
	Intent                intent.Intent    `json:"intent"`
	Fields                intent.Fields    `json:"fields,omitempty"`
	Plan                  Plan             `json:"plan,omitempty"`
	Results               []ActionResult   `json:"results,omitempty"`
	State                 State            `json:"state"`
	Terminal              TerminalState    `json:"terminal_state,omitempty"`
	ResolveErr            *Error           `json:"resolve_error,omitempty"`
	ValidationErr         *ValidationError `json:"validation_error,omitempty"`
	NotificationDelivered bool             `json:"notification_delivered"`
	StartedAt             time.Time        `json:"started_at"`
	CompletedAt           time.Time        `json:"completed_at"`
}

// NewRun starts a run record for one request.
func NewRun(rawText string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		RawText:   rawText,
		Intent:    intent.Unknown,
		State:     StateStart,
		StartedAt: time.Now().UTC(),
	}
}

// Transition moves the run to the next state, rejecting illegal edges.
func (r *Run) Transition(next State) error {
	if !CanTransition(r.State, next) {
		return fmt.Errorf("illegal transition from %s to %s", r.State, next)
	}
	r.State = next
	return nil
}

// SetTerminal records the terminal state once. Later writes are ignored so
// the first computed outcome is the one reported.
func (r *Run) SetTerminal(terminal TerminalState) {
	if r.Terminal != "" {
		return
	}
	r.Terminal = terminal
}

// Succeeded counts the successful results.
func (r *Run) Succeeded() int {
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// ComputeTerminal derives the terminal state from a plan and its results.
func ComputeTerminal(plan Plan, results []ActionResult) TerminalState {
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	switch {
	case len(plan) > 0 && succeeded == len(plan):
		return TerminalSucceeded
	case succeeded > 0:
		return TerminalPartiallySucceeded
	default:
		return TerminalFailed
	}
}
