package clawforge

import (
	"encoding/json"
	"time"
)

// EventKind is the append-only audit log's discriminator. Values are the
// exact snake_case wire names stored in the event store and serialized over
// the live broadcast.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventTriggerFired   EventKind = "trigger_fired"
	EventPlanGenerated  EventKind = "plan_generated"
	EventActionProposed EventKind = "action_proposed"
	EventActionApproved EventKind = "action_approved"
	EventActionDenied   EventKind = "action_denied"
	EventActionExecuted EventKind = "action_executed"
	EventActionFailed   EventKind = "action_failed"
	EventRunCompleted   EventKind = "run_completed"
	EventRunFailed      EventKind = "run_failed"
	EventBudgetWarning  EventKind = "budget_warning"
	EventBudgetExceeded EventKind = "budget_exceeded"
)

// terminalEventKinds ends a run's lifecycle; IsTerminal consults this set.
var terminalEventKinds = map[EventKind]bool{
	EventRunCompleted:   true,
	EventRunFailed:      true,
	EventBudgetExceeded: true,
}

// Event is one immutable entry in a run's append-only history. Sequence is
// monotonically increasing per RunID, assigned by the Supervisor at the
// moment of append so that concurrent producers never collide.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	AgentID   string          `json:"agent_id"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent constructs an Event with a fresh ID and current timestamp.
// Sequence is left zero; the Supervisor assigns it on append.
func NewEvent(runID, agentID string, kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, NewError(KindExecutionError, "NewEvent", err)
	}
	return Event{
		ID:        NewID(),
		RunID:     runID,
		AgentID:   agentID,
		Timestamp: NowUTC(),
		Kind:      kind,
		Payload:   raw,
	}, nil
}

// IsTerminal reports whether this event kind ends the run's lifecycle.
func (e Event) IsTerminal() bool { return terminalEventKinds[e.Kind] }

// TriggerFiredPayload is the run_started/trigger_fired event payload.
type TriggerFiredPayload struct {
	TriggerKind TriggerKind `json:"trigger_kind"`
	Reason      string      `json:"reason,omitempty"`
}

// PlanGeneratedPayload records which provider won the race, the proposal
// it produced, and the tokens that call consumed (for budget policing).
type PlanGeneratedPayload struct {
	Provider   string         `json:"provider"`
	Action     ProposedAction `json:"action"`
	TokensUsed int64          `json:"tokens_used,omitempty"`
}

// ActionProposedPayload mirrors the proposal before the capability gate runs.
type ActionProposedPayload struct {
	StepIndex int            `json:"step_index"`
	Action    ProposedAction `json:"action"`
}

// ActionDeniedPayload records why the capability gate refused an action.
type ActionDeniedPayload struct {
	StepIndex int       `json:"step_index"`
	Kind      ErrorKind `json:"kind"`
	Reason    string    `json:"reason"`
}

// ActionExecutedPayload records an action's successful outcome.
type ActionExecutedPayload struct {
	StepIndex int          `json:"step_index"`
	Output    ActionOutput `json:"output"`
}

// ActionFailedPayload records an action's unsuccessful outcome.
type ActionFailedPayload struct {
	StepIndex int    `json:"step_index"`
	Reason    string `json:"reason"`
}

// RunFailedPayload records why a run ended in failure.
type RunFailedPayload struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// RunCompletedPayload records the final summary text of a successful run.
type RunCompletedPayload struct {
	Summary string `json:"summary,omitempty"`
}

// BudgetPayload records cumulative token/cost usage against the agent's caps.
type BudgetPayload struct {
	TokensUsed int64   `json:"tokens_used"`
	TokensCap  *int64  `json:"tokens_cap,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	CostCapUSD *float64 `json:"cost_cap_usd,omitempty"`
}
