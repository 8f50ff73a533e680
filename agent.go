package clawforge

import "time"

// TriggerKind discriminates the Trigger tagged union.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerManual   TriggerKind = "manual"
)

// Trigger is the tagged-variant condition that starts a run. Only the field
// matching Kind is meaningful.
type Trigger struct {
	Kind            TriggerKind `json:"kind"`
	CronExpression  string      `json:"cron_expression,omitempty"`
	IntervalSeconds int         `json:"interval_seconds,omitempty"`
	WebhookPath     string      `json:"webhook_path,omitempty"`
}

// CronTrigger builds a Trigger that fires on a 5-field cron expression,
// evaluated in UTC.
func CronTrigger(expression string) Trigger {
	return Trigger{Kind: TriggerCron, CronExpression: expression}
}

// IntervalTrigger builds a Trigger that fires every seconds seconds.
func IntervalTrigger(seconds int) Trigger {
	return Trigger{Kind: TriggerInterval, IntervalSeconds: seconds}
}

// WebhookTrigger builds a Trigger fired by an inbound webhook at path.
func WebhookTrigger(path string) Trigger {
	return Trigger{Kind: TriggerWebhook, WebhookPath: path}
}

// ManualTrigger builds a Trigger fired only by explicit dispatch.
func ManualTrigger() Trigger {
	return Trigger{Kind: TriggerManual}
}

// Capabilities is the coarse-grained permission set checked by the
// Executor's capability gate before any side effect.
type Capabilities struct {
	CanReadFiles        bool     `json:"can_read_files"`
	CanWriteFiles       bool     `json:"can_write_files"`
	CanExecuteCommands  bool     `json:"can_execute_commands"`
	CanMakeHTTPRequests bool     `json:"can_make_http_requests"`
	AllowedDomains      []string `json:"allowed_domains,omitempty"`
	MaxTokensPerRun     *int64   `json:"max_tokens_per_run,omitempty"`
	MaxCostPerRunUSD    *float64 `json:"max_cost_per_run_usd,omitempty"`
}

// LLMPolicy configures which providers race for a run and with what request
// parameters.
type LLMPolicy struct {
	Providers    []string `json:"providers"`
	Model        string   `json:"model"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  float64  `json:"temperature"`
	SystemPrompt string   `json:"system_prompt"`
}

// ActionKind discriminates both WorkflowStep.Action and the ProposedAction
// tagged union in action.go.
type ActionKind string

const (
	ActionShellCommand ActionKind = "shell_command"
	ActionHTTPRequest  ActionKind = "http_request"
	ActionToolCall     ActionKind = "tool_call"
	ActionLLMResponse  ActionKind = "llm_response"
)

// FailureKind discriminates the FailurePolicy tagged union.
type FailureKind string

const (
	FailureStop    FailureKind = "stop"
	FailureRetry   FailureKind = "retry"
	FailureSkip    FailureKind = "skip"
	FailureReplan  FailureKind = "replan"
)

// FailurePolicy names what a WorkflowStep's failure should do to the run. It
// is stored as part of the AgentSpec only: no component in this module reads
// a step's OnFailure, and none retries, skips or replans a failed action.
type FailurePolicy struct {
	Kind        FailureKind `json:"kind"`
	MaxAttempts int         `json:"max_attempts,omitempty"`
}

// StopOnFailure builds a FailureStop policy (halt the run on the first
// failure of this step).
func StopOnFailure() FailurePolicy { return FailurePolicy{Kind: FailureStop} }

// RetryOnFailure builds a FailureRetry policy carrying maxAttempts (retry the
// step up to maxAttempts times before giving up).
func RetryOnFailure(maxAttempts int) FailurePolicy {
	return FailurePolicy{Kind: FailureRetry, MaxAttempts: maxAttempts}
}

// SkipOnFailure builds a FailureSkip policy (move on to the next step
// without stopping the run).
func SkipOnFailure() FailurePolicy { return FailurePolicy{Kind: FailureSkip} }

// ReplanOnFailure builds a FailureReplan policy (send the run back to the
// Planner for a fresh proposal).
func ReplanOnFailure() FailurePolicy { return FailurePolicy{Kind: FailureReplan} }

// WorkflowStep is one ordered stage of an agent's workflow.
type WorkflowStep struct {
	Name      string        `json:"name"`
	Action    ActionKind    `json:"action"`
	OnFailure FailurePolicy `json:"on_failure"`
}

// AgentSpec is the immutable, declarative definition of an agent. Once
// registered with the Supervisor it is shared-immutable: callers get copies,
// never a pointer into the registry's storage.
type AgentSpec struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Tags         []string       `json:"tags,omitempty"`
	Trigger      Trigger        `json:"trigger"`
	Capabilities Capabilities   `json:"capabilities"`
	LLMPolicy    LLMPolicy      `json:"llm_policy"`
	Workflow     []WorkflowStep `json:"workflow"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AgentOption configures a new AgentSpec.
type AgentOption func(*AgentSpec)

// WithTags sets free-form labels surfaced by agent listing/filtering.
func WithTags(tags ...string) AgentOption {
	return func(a *AgentSpec) { a.Tags = append(a.Tags, tags...) }
}

// WithCapabilities sets the agent's permission set.
func WithCapabilities(c Capabilities) AgentOption {
	return func(a *AgentSpec) { a.Capabilities = c }
}

// WithLLMPolicy sets the provider race policy.
func WithLLMPolicy(p LLMPolicy) AgentOption {
	return func(a *AgentSpec) { a.LLMPolicy = p }
}

// WithWorkflow sets the ordered action sequence.
func WithWorkflow(steps ...WorkflowStep) AgentOption {
	return func(a *AgentSpec) { a.Workflow = append(a.Workflow, steps...) }
}

// NewAgentSpec creates an AgentSpec with a fresh ID and CreatedAt timestamp.
func NewAgentSpec(name, description string, trigger Trigger, opts ...AgentOption) AgentSpec {
	a := AgentSpec{
		ID:          NewID(),
		Name:        name,
		Description: description,
		Trigger:     trigger,
		CreatedAt:   NowUTC(),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}
