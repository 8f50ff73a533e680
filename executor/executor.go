// Package executor validates a ProposedAction against the agent's
// capabilities, then carries it out: shell command, HTTP request, tool
// call, or pass-through LLM response.
package executor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	clawforge "github.com/clawforge/clawforge"
)

// AgentResolver looks up a registered agent's spec and exposes the
// Supervisor's per-run cancellation surface, giving the Executor access to
// capabilities and run state without owning either registry itself — the
// Supervisor is the canonical owner (§4.5's save_agent/get_agent API, §5's
// cancellation contract).
type AgentResolver interface {
	GetAgent(id string) (clawforge.AgentSpec, bool)
	// RunState reports runID's current in-memory state, if known.
	RunState(runID string) (clawforge.RunStateKind, bool)
	// RegisterCancel attaches a cancellation token to runID so a later
	// CancelRun can interrupt an in-flight action at its next suspension
	// point.
	RegisterCancel(runID string, cancel context.CancelFunc)
}

// Executor owns the executor_in receiver, gates every proposal against the
// agent's Capabilities, runs approved actions, and emits the resulting
// audit events to supervisor_in.
type Executor struct {
	bus        *clawforge.Bus
	agents     AgentResolver
	tools      *ToolRegistry
	httpClient *http.Client
	log        *slog.Logger
	tracer     clawforge.Tracer // nil = tracing disabled
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithHTTPClient overrides the default http.Client used for HttpRequest
// actions.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithTracer enables span creation around each action's gate-then-execute
// dispatch.
func WithTracer(t clawforge.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// New constructs an Executor bound to bus, agents, and tools.
func New(bus *clawforge.Bus, agents AgentResolver, tools *ToolRegistry, opts ...Option) *Executor {
	e := &Executor{
		bus:        bus,
		agents:     agents,
		tools:      tools,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drains executor_in until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	rx, ok := e.bus.TakeReceiver(clawforge.ChannelExecutor)
	if !ok {
		e.log.Error("executor_in receiver already taken; executor cannot run")
		return
	}

	e.log.Info("executor started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("executor stopped")
			return
		case msg, ok := <-rx:
			if !ok {
				return
			}
			if msg.Type != clawforge.MsgActionProposal || msg.ActionProposal == nil {
				continue
			}
			proposal := *msg.ActionProposal
			go e.handle(ctx, proposal)
		}
	}
}

func (e *Executor) handle(ctx context.Context, p clawforge.ActionProposalMsg) {
	if e.tracer != nil {
		var span clawforge.Span
		ctx, span = e.tracer.Start(ctx, "executor.dispatch",
			clawforge.StringAttr("run_id", p.RunID), clawforge.StringAttr("action", string(p.Action.Type)))
		defer span.End()
	}

	if state, ok := e.agents.RunState(p.RunID); ok && state == clawforge.RunCancelled {
		e.log.Info("run cancelled, skipping action", "run_id", p.RunID, "step_index", p.StepIndex)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.agents.RegisterCancel(p.RunID, cancel)
	ctx = runCtx

	agent, ok := e.agents.GetAgent(p.AgentID)
	if !ok {
		e.emit(ctx, p.RunID, p.AgentID, clawforge.EventRunFailed, clawforge.RunFailedPayload{
			Kind: clawforge.KindUnknownAgent, Reason: "agent no longer registered",
		})
		return
	}

	if denyReason, kind, denied := e.gate(agent.Capabilities, p.Action); denied {
		e.emit(ctx, p.RunID, p.AgentID, clawforge.EventActionDenied, clawforge.ActionDeniedPayload{
			StepIndex: p.StepIndex, Kind: kind, Reason: denyReason,
		})
		return
	}
	e.emit(ctx, p.RunID, p.AgentID, clawforge.EventActionApproved, clawforge.ActionProposedPayload{
		StepIndex: p.StepIndex, Action: p.Action,
	})

	output, err := e.execute(ctx, p.Action)
	if err != nil {
		e.emit(ctx, p.RunID, p.AgentID, clawforge.EventActionFailed, clawforge.ActionFailedPayload{
			StepIndex: p.StepIndex, Reason: err.Error(),
		})
		return
	}

	e.emit(ctx, p.RunID, p.AgentID, clawforge.EventActionExecuted, clawforge.ActionExecutedPayload{
		StepIndex: p.StepIndex, Output: output,
	})
	e.emit(ctx, p.RunID, p.AgentID, clawforge.EventRunCompleted, clawforge.RunCompletedPayload{})
}

// gate implements the §4.4 capability table. It returns (reason, kind,
// true) on denial, or ("", "", false) on approval.
func (e *Executor) gate(caps clawforge.Capabilities, action clawforge.ProposedAction) (string, clawforge.ErrorKind, bool) {
	switch action.Type {
	case clawforge.ActionShellCommand:
		if !caps.CanExecuteCommands {
			return "shell command execution not allowed", clawforge.KindCapabilityDenied, true
		}
	case clawforge.ActionHTTPRequest:
		if !caps.CanMakeHTTPRequests {
			return "can_make_http_requests is false", clawforge.KindCapabilityDenied, true
		}
		if action.HTTP != nil && len(caps.AllowedDomains) > 0 {
			host := extractHost(action.HTTP.URL)
			if !hostAllowed(host, caps.AllowedDomains) {
				return "domain '" + host + "' not in allowed list", clawforge.KindDomainNotAllowed, true
			}
		}
	case clawforge.ActionToolCall:
		if action.Tool == nil {
			return "tool call missing arguments", clawforge.KindToolNotFound, true
		}
		tool, ok := e.tools.Lookup(action.Tool.Tool)
		if !ok {
			return "tool not registered: " + action.Tool.Tool, clawforge.KindToolNotFound, true
		}
		if checker, ok := tool.(CapabilityChecker); ok && !checker.RequiredCapability(caps) {
			return "tool " + action.Tool.Tool + " requires a capability this agent lacks", clawforge.KindCapabilityDenied, true
		}
	case clawforge.ActionLLMResponse:
		// Always allowed: pure data, no side effect.
	}
	return "", "", false
}

// hostAllowed reports whether host ends with one of the allowed suffixes.
// Both sides are NFC-normalized first so visually-identical
// internationalized domain names expressed with different combining-mark
// orderings can't slip past the suffix check.
func hostAllowed(host string, allowed []string) bool {
	host = norm.NFC.String(host)
	for _, suffix := range allowed {
		if strings.HasSuffix(host, norm.NFC.String(suffix)) {
			return true
		}
	}
	return false
}

func extractHost(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx != -1 {
		withoutScheme = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(withoutScheme, "/?#"); idx != -1 {
		withoutScheme = withoutScheme[:idx]
	}
	if idx := strings.Index(withoutScheme, "@"); idx != -1 {
		withoutScheme = withoutScheme[idx+1:]
	}
	if idx := strings.LastIndex(withoutScheme, ":"); idx != -1 {
		withoutScheme = withoutScheme[:idx]
	}
	return withoutScheme
}

// execute carries out an approved action and returns its ActionOutput.
func (e *Executor) execute(ctx context.Context, action clawforge.ProposedAction) (clawforge.ActionOutput, error) {
	switch action.Type {
	case clawforge.ActionShellCommand:
		return e.executeShellViaTool(ctx, action.Shell)
	case clawforge.ActionHTTPRequest:
		return e.executeHTTP(ctx, action.HTTP)
	case clawforge.ActionToolCall:
		return e.executeTool(ctx, action.Tool)
	case clawforge.ActionLLMResponse:
		return clawforge.ActionOutput{LLM: action.LLM.Text}, nil
	}
	return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.execute", nil)
}

// executeShellViaTool dispatches a direct ShellCommand proposal through the
// shell_exec tool, keeping command execution in one place.
func (e *Executor) executeShellViaTool(ctx context.Context, a *clawforge.ShellCommandAction) (clawforge.ActionOutput, error) {
	tool, ok := e.tools.Lookup("shell_exec")
	if !ok {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindToolNotFound, "Executor.executeShellViaTool", nil)
	}
	args, err := shellArgsJSON(a)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeShellViaTool", err)
	}
	raw, err := tool.Execute(ctx, args)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeShellViaTool", err)
	}
	var result clawforge.ShellResult
	if err := unmarshalInto(raw, &result); err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeShellViaTool", err)
	}
	return clawforge.ActionOutput{Shell: &result}, nil
}

func (e *Executor) executeHTTP(ctx context.Context, a *clawforge.HTTPRequestAction) (clawforge.ActionOutput, error) {
	var body io.Reader
	if a.Body != "" {
		body = bytes.NewReader([]byte(a.Body))
	}
	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, body)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeHTTP", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeHTTP", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeHTTP", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return clawforge.ActionOutput{HTTP: &clawforge.HTTPResult{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    string(raw),
	}}, nil
}

func (e *Executor) executeTool(ctx context.Context, a *clawforge.ToolCallAction) (clawforge.ActionOutput, error) {
	tool, ok := e.tools.Lookup(a.Tool)
	if !ok {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindToolNotFound, "Executor.executeTool", nil)
	}
	raw, err := tool.Execute(ctx, a.Args)
	if err != nil {
		return clawforge.ActionOutput{}, clawforge.NewError(clawforge.KindExecutionError, "Executor.executeTool", err)
	}
	return clawforge.ActionOutput{Tool: &clawforge.ToolOutput{Tool: a.Tool, Output: raw}}, nil
}

func (e *Executor) emit(ctx context.Context, runID, agentID string, kind clawforge.EventKind, payload any) {
	evt, err := clawforge.NewEvent(runID, agentID, kind, payload)
	if err != nil {
		e.log.Error("failed to build event", "run_id", runID, "kind", kind, "error", err)
		return
	}
	if err := e.bus.Send(ctx, clawforge.ChannelSupervisor, clawforge.NewRunEvent(evt)); err != nil {
		e.log.Error("failed to emit event", "run_id", runID, "kind", kind, "error", err)
	}
}
