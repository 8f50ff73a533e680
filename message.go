package clawforge

// MessageType discriminates the Message tagged union carried on the bus.
type MessageType string

const (
	MsgJobTrigger     MessageType = "job_trigger"
	MsgPlanRequest    MessageType = "plan_request"
	MsgActionProposal MessageType = "action_proposal"
	MsgCancelRun      MessageType = "cancel_run"
	MsgRequestInput   MessageType = "request_input"
	MsgProvideInput   MessageType = "provide_input"
	MsgRunEvent       MessageType = "run_event"
)

// JobTrigger is sent on scheduler_in to fire an agent outside its time
// trigger (manual or API dispatch); the Scheduler starts a new run for it.
type JobTrigger struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

// PlanRequest is sent by the Scheduler on planner_in asking for a proposal
// for a run it has just started.
type PlanRequest struct {
	RunID string    `json:"run_id"`
	Agent AgentSpec `json:"agent"`
	Input string    `json:"input,omitempty"`
}

// ActionProposalMsg is sent planner_in -> executor_in carrying one step of
// a plan to execute.
type ActionProposalMsg struct {
	RunID     string         `json:"run_id"`
	AgentID   string         `json:"agent_id"`
	StepIndex int            `json:"step_index"`
	Action    ProposedAction `json:"action"`
}

// CancelRunMsg asks whichever component owns a run's in-flight work to stop.
type CancelRunMsg struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// RequestInputMsg moves a run into RunAwaitingInput, carrying the prompt to
// surface to whatever is collecting input on the run's behalf.
type RequestInputMsg struct {
	RunID  string `json:"run_id"`
	Prompt string `json:"prompt"`
}

// ProvideInputMsg resumes a run previously suspended by RequestInputMsg.
type ProvideInputMsg struct {
	RunID string `json:"run_id"`
	Input string `json:"input"`
}

// RunEventMsg carries an already-constructed Event for persistence and
// broadcast; used by components that want the Supervisor to own the append
// rather than appending directly.
type RunEventMsg struct {
	Event Event `json:"event"`
}

// Message is the single tagged-union envelope exchanged on the bus. Only the
// field named by Type is populated.
type Message struct {
	Type           MessageType        `json:"type"`
	JobTrigger     *JobTrigger        `json:"job_trigger,omitempty"`
	PlanRequest    *PlanRequest       `json:"plan_request,omitempty"`
	ActionProposal *ActionProposalMsg `json:"action_proposal,omitempty"`
	CancelRun      *CancelRunMsg      `json:"cancel_run,omitempty"`
	RequestInput   *RequestInputMsg   `json:"request_input,omitempty"`
	ProvideInput   *ProvideInputMsg   `json:"provide_input,omitempty"`
	RunEvent       *RunEventMsg       `json:"run_event,omitempty"`
}

// NewJobTrigger wraps a JobTrigger as a Message.
func NewJobTrigger(agentID, reason string) Message {
	return Message{Type: MsgJobTrigger, JobTrigger: &JobTrigger{AgentID: agentID, Reason: reason}}
}

// NewPlanRequest wraps a PlanRequest as a Message.
func NewPlanRequest(runID string, agent AgentSpec, input string) Message {
	return Message{Type: MsgPlanRequest, PlanRequest: &PlanRequest{RunID: runID, Agent: agent, Input: input}}
}

// NewActionProposal wraps an ActionProposalMsg as a Message.
func NewActionProposal(runID, agentID string, stepIndex int, action ProposedAction) Message {
	return Message{Type: MsgActionProposal, ActionProposal: &ActionProposalMsg{
		RunID: runID, AgentID: agentID, StepIndex: stepIndex, Action: action,
	}}
}

// NewCancelRun wraps a CancelRunMsg as a Message.
func NewCancelRun(runID, reason string) Message {
	return Message{Type: MsgCancelRun, CancelRun: &CancelRunMsg{RunID: runID, Reason: reason}}
}

// NewRequestInput wraps a RequestInputMsg as a Message.
func NewRequestInput(runID, prompt string) Message {
	return Message{Type: MsgRequestInput, RequestInput: &RequestInputMsg{RunID: runID, Prompt: prompt}}
}

// NewProvideInput wraps a ProvideInputMsg as a Message.
func NewProvideInput(runID, input string) Message {
	return Message{Type: MsgProvideInput, ProvideInput: &ProvideInputMsg{RunID: runID, Input: input}}
}

// NewRunEvent wraps an Event as a Message.
func NewRunEvent(e Event) Message {
	return Message{Type: MsgRunEvent, RunEvent: &RunEventMsg{Event: e}}
}

// RunID returns the run identifier carried by whichever variant is
// populated, or "" for JobTrigger, which is sent before any run exists.
func (m Message) RunID() string {
	switch m.Type {
	case MsgJobTrigger:
		return ""
	case MsgPlanRequest:
		if m.PlanRequest != nil {
			return m.PlanRequest.RunID
		}
	case MsgActionProposal:
		if m.ActionProposal != nil {
			return m.ActionProposal.RunID
		}
	case MsgCancelRun:
		if m.CancelRun != nil {
			return m.CancelRun.RunID
		}
	case MsgRequestInput:
		if m.RequestInput != nil {
			return m.RequestInput.RunID
		}
	case MsgProvideInput:
		if m.ProvideInput != nil {
			return m.ProvideInput.RunID
		}
	case MsgRunEvent:
		if m.RunEvent != nil {
			return m.RunEvent.Event.RunID
		}
	}
	return ""
}
