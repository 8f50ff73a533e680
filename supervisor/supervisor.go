// Package supervisor is the sole writer to the event store: it tracks
// in-memory run state, persists every event, fans it out to live
// subscribers, and polices per-run token budgets.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/eventstore"
	"github.com/clawforge/clawforge/telemetry"
)

// Store is the persistence surface the Supervisor writes through. It is
// satisfied by *eventstore.Store; declared as an interface here so tests
// can substitute a fake that simulates a write failure.
type Store interface {
	Insert(ctx context.Context, e clawforge.Event) error
	GetRunEvents(ctx context.Context, runID string) ([]clawforge.Event, error)
	GetRecent(ctx context.Context, limit int) ([]clawforge.Event, error)
	Count(ctx context.Context) (int64, error)
	SaveAgent(ctx context.Context, agent clawforge.AgentSpec) error
	GetAgent(ctx context.Context, id string) (clawforge.AgentSpec, bool, error)
	ListAgents(ctx context.Context) ([]clawforge.AgentSpec, error)
}

var _ Store = (*eventstore.Store)(nil)

// runEntry is the Supervisor's private bookkeeping for one run, guarded by
// Supervisor.mu.
type runEntry struct {
	run      clawforge.Run
	cancel   context.CancelFunc // per-run cancellation token, see §5 "stronger variant"
	resumeCh chan struct{}      // closed once, when ProvideInput resumes an AwaitingInput run
}

// Supervisor owns the supervisor_in receiver, the in-memory run-state map,
// and the live broadcast fan-out.
type Supervisor struct {
	bus    *clawforge.Bus
	store  Store
	log    *slog.Logger
	tracer clawforge.Tracer       // nil = tracing disabled
	ins    *telemetry.Instruments // nil = metrics disabled

	budgetEnforcementEnabled bool
	budgetSoftLimit          int64 // triggers BudgetWarning

	mu   sync.RWMutex
	runs map[string]*runEntry
	seq  map[string]int64 // per-run next Event.Sequence

	broadcastMu sync.RWMutex
	subs        map[<-chan clawforge.Event]chan clawforge.Event
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithTracer enables span creation around each event's persist-broadcast
// cycle.
func WithTracer(t clawforge.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// WithInstruments enables events-persisted/runs-completed/runs-failed/budget
// metric recording.
func WithInstruments(ins *telemetry.Instruments) Option {
	return func(s *Supervisor) { s.ins = ins }
}

// WithBudgetSoftLimit sets the cumulative token threshold past which a
// BudgetWarning is emitted. Zero disables soft warnings.
func WithBudgetSoftLimit(n int64) Option {
	return func(s *Supervisor) { s.budgetSoftLimit = n }
}

// WithBudgetEnforcement enables or disables hard budget enforcement
// (BudgetExceeded + auto-cancel against AgentSpec.capabilities.max_tokens_per_run).
// Enabled when this option is not given; the config package's
// budget_enforcement_enabled key defaults to false and cmd/clawforge passes
// it through.
func WithBudgetEnforcement(enabled bool) Option {
	return func(s *Supervisor) { s.budgetEnforcementEnabled = enabled }
}

// New constructs a Supervisor bound to bus and store.
func New(bus *clawforge.Bus, store Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		bus:                      bus,
		store:                    store,
		log:                      slog.Default(),
		budgetEnforcementEnabled: true,
		runs:                     make(map[string]*runEntry),
		seq:                      make(map[string]int64),
		subs:                     make(map[<-chan clawforge.Event]chan clawforge.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains supervisor_in until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	rx, ok := s.bus.TakeReceiver(clawforge.ChannelSupervisor)
	if !ok {
		s.log.Error("supervisor_in receiver already taken; supervisor cannot run")
		return
	}

	s.log.Info("supervisor started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("supervisor stopped")
			return
		case msg, ok := <-rx:
			if !ok {
				return
			}
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *Supervisor) handleMessage(ctx context.Context, msg clawforge.Message) {
	switch msg.Type {
	case clawforge.MsgRunEvent:
		if msg.RunEvent != nil {
			s.handleEvent(ctx, msg.RunEvent.Event)
		}
	case clawforge.MsgCancelRun:
		if msg.CancelRun != nil {
			s.CancelRun(msg.CancelRun.RunID)
		}
	case clawforge.MsgRequestInput:
		if msg.RequestInput != nil {
			s.requestInput(msg.RequestInput.RunID, msg.RequestInput.Prompt)
		}
	case clawforge.MsgProvideInput:
		if msg.ProvideInput != nil {
			s.provideInput(msg.ProvideInput.RunID)
		}
	}
}

// handleEvent implements §4.5's per-event sequence: update in-memory state,
// persist, broadcast, then police budget.
func (s *Supervisor) handleEvent(ctx context.Context, e clawforge.Event) {
	if s.tracer != nil {
		var span clawforge.Span
		ctx, span = s.tracer.Start(ctx, "supervisor.persist",
			clawforge.StringAttr("run_id", e.RunID), clawforge.StringAttr("kind", string(e.Kind)))
		defer span.End()
	}

	e.Sequence = s.nextSequence(e.RunID)
	s.applyStateTransition(e)

	if err := s.store.Insert(ctx, e); err != nil {
		s.log.Error("event store write failed, continuing", "run_id", e.RunID, "error", err)
	}
	if s.ins != nil {
		s.ins.EventsPersisted.Add(ctx, 1)
		switch e.Kind {
		case clawforge.EventRunCompleted:
			s.ins.RunsCompleted.Add(ctx, 1)
		case clawforge.EventRunFailed:
			s.ins.RunsFailed.Add(ctx, 1)
		}
	}

	s.broadcast(e)
	s.policeBudget(ctx, e)
}

func (s *Supervisor) nextSequence(runID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[runID]++
	return s.seq[runID]
}

func (s *Supervisor) applyStateTransition(e clawforge.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.runs[e.RunID]
	if !ok {
		entry = &runEntry{run: clawforge.Run{ID: e.RunID, AgentID: e.AgentID}}
		s.runs[e.RunID] = entry
	}
	entry.run.LastEventAt = e.Timestamp

	switch e.Kind {
	case clawforge.EventRunStarted, clawforge.EventTriggerFired:
		entry.run.State = clawforge.RunActive
		entry.run.StartedAt = e.Timestamp
	case clawforge.EventRunCompleted:
		entry.run.State = clawforge.RunCompleted
		entry.run.EndedAt = e.Timestamp
	case clawforge.EventRunFailed, clawforge.EventBudgetExceeded:
		entry.run.State = clawforge.RunFailed
		entry.run.EndedAt = e.Timestamp
	}

	if tokens := tokensUsedIn(e); tokens > 0 {
		entry.run.TokensUsed += tokens
	}
}

// tokensUsedIn extracts tokens_used from a plan_generated event's payload;
// every other event kind contributes zero to the running total.
func tokensUsedIn(e clawforge.Event) int64 {
	if e.Kind != clawforge.EventPlanGenerated {
		return 0
	}
	var payload clawforge.PlanGeneratedPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return 0
	}
	return payload.TokensUsed
}

// policeBudget emits BudgetWarning past the soft limit, and (if hard
// enforcement is enabled) BudgetExceeded + an internal CancelRun past the
// agent's max_tokens_per_run. BudgetWarning payloads carry no tokens_used,
// so this never recurses.
func (s *Supervisor) policeBudget(ctx context.Context, e clawforge.Event) {
	if e.Kind == clawforge.EventBudgetWarning || e.Kind == clawforge.EventBudgetExceeded {
		return
	}

	s.mu.RLock()
	entry, ok := s.runs[e.RunID]
	var tokensUsed int64
	if ok {
		tokensUsed = entry.run.TokensUsed
	}
	s.mu.RUnlock()
	if !ok || tokensUsed == 0 {
		return
	}

	if s.budgetSoftLimit > 0 && tokensUsed > s.budgetSoftLimit {
		s.emitInternal(ctx, e.RunID, e.AgentID, clawforge.EventBudgetWarning, clawforge.BudgetPayload{TokensUsed: tokensUsed})
		if s.ins != nil {
			s.ins.BudgetWarnings.Add(ctx, 1)
		}
	}

	if !s.budgetEnforcementEnabled {
		return
	}
	agent, found, err := s.store.GetAgent(ctx, e.AgentID)
	if err != nil || !found || agent.Capabilities.MaxTokensPerRun == nil {
		return
	}
	if tokensUsed > *agent.Capabilities.MaxTokensPerRun {
		s.emitInternal(ctx, e.RunID, e.AgentID, clawforge.EventBudgetExceeded, clawforge.BudgetPayload{
			TokensUsed: tokensUsed, TokensCap: agent.Capabilities.MaxTokensPerRun,
		})
		if s.ins != nil {
			s.ins.BudgetExceeded.Add(ctx, 1)
		}
		s.CancelRun(e.RunID)
	}
}

// emitInternal persists and broadcasts a Supervisor-originated event
// without re-entering policeBudget (the caller is already inside it).
func (s *Supervisor) emitInternal(ctx context.Context, runID, agentID string, kind clawforge.EventKind, payload any) {
	evt, err := clawforge.NewEvent(runID, agentID, kind, payload)
	if err != nil {
		s.log.Error("failed to build internal event", "run_id", runID, "kind", kind, "error", err)
		return
	}
	evt.Sequence = s.nextSequence(runID)
	s.applyStateTransition(evt)
	if err := s.store.Insert(ctx, evt); err != nil {
		s.log.Error("event store write failed, continuing", "run_id", runID, "error", err)
	}
	s.broadcast(evt)
}

// CancelRun marks a run Cancelled and invokes its cancellation token, if
// one was registered via RegisterCancel. Actual in-flight action
// interruption remains best-effort, per §5.
func (s *Supervisor) CancelRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		entry = &runEntry{run: clawforge.Run{ID: runID}}
		s.runs[runID] = entry
	}
	entry.run.State = clawforge.RunCancelled
	if entry.cancel != nil {
		entry.cancel()
	}
}

// RunState returns runID's current in-memory state. The Executor calls this
// before starting any new action for a run, per §5's "must check the
// Supervisor's state and abort if Cancelled" contract.
func (s *Supervisor) RunState(runID string) (clawforge.RunStateKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return 0, false
	}
	return entry.run.State, true
}

// RegisterCancel attaches a cancellation token to runID, invoked by a
// future CancelRun. This is the "stronger variant" §5 references: a
// per-run context.CancelFunc the Executor's run loop can select on.
func (s *Supervisor) RegisterCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		entry = &runEntry{run: clawforge.Run{ID: runID}}
		s.runs[runID] = entry
	}
	entry.cancel = cancel
}

func (s *Supervisor) requestInput(runID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		entry = &runEntry{run: clawforge.Run{ID: runID}}
		s.runs[runID] = entry
	}
	entry.run.State = clawforge.RunAwaitingInput
	entry.run.Prompt = prompt
	entry.resumeCh = make(chan struct{})
}

func (s *Supervisor) provideInput(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok || entry.run.State != clawforge.RunAwaitingInput {
		return
	}
	entry.run.State = clawforge.RunActive
	entry.run.Prompt = ""
	if entry.resumeCh != nil {
		close(entry.resumeCh)
		entry.resumeCh = nil
	}
}

// AwaitResume blocks until runID transitions out of AwaitingInput via
// ProvideInput, or ctx is cancelled. Resolves spec §9's "no direct wake-up
// signal" open question by adding one: callers that want to react to
// resumption rather than poll may use this.
func (s *Supervisor) AwaitResume(ctx context.Context, runID string) error {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	var ch chan struct{}
	if ok {
		ch = entry.resumeCh
	}
	s.mu.RUnlock()
	if !ok || ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAgent implements executor.AgentResolver, backed by the store.
func (s *Supervisor) GetAgent(id string) (clawforge.AgentSpec, bool) {
	agent, ok, err := s.store.GetAgent(context.Background(), id)
	if err != nil {
		s.log.Error("GetAgent store lookup failed", "agent_id", id, "error", err)
		return clawforge.AgentSpec{}, false
	}
	return agent, ok
}

// SaveAgent registers or replaces an agent spec.
func (s *Supervisor) SaveAgent(ctx context.Context, agent clawforge.AgentSpec) error {
	return s.store.SaveAgent(ctx, agent)
}

// ListAgents returns every registered agent spec.
func (s *Supervisor) ListAgents(ctx context.Context) ([]clawforge.AgentSpec, error) {
	return s.store.ListAgents(ctx)
}

// RunSummary is the result of replaying a run's events: its current
// projected state plus the full event log.
type RunSummary struct {
	Run    clawforge.Run
	Events []clawforge.Event
}

// GetRunSummary loads runID's events from the store and returns them with
// the run's in-memory state, or, when no in-memory entry exists, with a Run
// projected by replaying those events.
func (s *Supervisor) GetRunSummary(ctx context.Context, runID string) (RunSummary, error) {
	events, err := s.store.GetRunEvents(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()

	run := clawforge.Run{ID: runID}
	if ok {
		run = entry.run.Snapshot()
	} else if len(events) > 0 {
		run = projectRun(events)
	}
	return RunSummary{Run: run, Events: events}, nil
}

// projectRun rebuilds a Run purely from its event history, for runs whose
// in-memory entry has been evicted (e.g. after a restart).
func projectRun(events []clawforge.Event) clawforge.Run {
	if len(events) == 0 {
		return clawforge.Run{}
	}
	run := clawforge.Run{ID: events[0].RunID, AgentID: events[0].AgentID, StartedAt: events[0].Timestamp}
	for _, e := range events {
		run.LastEventAt = e.Timestamp
		switch e.Kind {
		case clawforge.EventRunStarted, clawforge.EventTriggerFired:
			run.State = clawforge.RunActive
		case clawforge.EventRunCompleted:
			run.State = clawforge.RunCompleted
			run.EndedAt = e.Timestamp
		case clawforge.EventRunFailed, clawforge.EventBudgetExceeded:
			run.State = clawforge.RunFailed
			run.EndedAt = e.Timestamp
		}
		if tokens := tokensUsedIn(e); tokens > 0 {
			run.TokensUsed += tokens
		}
	}
	return run
}

// GetRecentRuns groups the store's most recent events by run_id, returning
// up to limit runs' summaries ordered by their most recent event.
func (s *Supervisor) GetRecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	events, err := s.store.GetRecent(ctx, limit*8) // over-fetch: several events per run
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, limit)
	byRun := make(map[string][]clawforge.Event)
	for _, e := range events {
		if _, seen := byRun[e.RunID]; !seen {
			order = append(order, e.RunID)
		}
		byRun[e.RunID] = append(byRun[e.RunID], e)
	}

	var summaries []RunSummary
	for _, runID := range order {
		if len(summaries) >= limit {
			break
		}
		runEvents := byRun[runID]
		summaries = append(summaries, RunSummary{Run: projectRun(reverse(runEvents)), Events: reverse(runEvents)})
	}
	return summaries, nil
}

func reverse(events []clawforge.Event) []clawforge.Event {
	out := make([]clawforge.Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}

// Subscribe returns a channel receiving every event the Supervisor
// broadcasts from the moment of subscription onward. The caller must call
// Unsubscribe to release it.
func (s *Supervisor) Subscribe(bufSize int) <-chan clawforge.Event {
	ch := make(chan clawforge.Event, bufSize)
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	s.subs[ch] = ch
	return ch
}

// Unsubscribe removes and closes a subscription. Safe to call more than
// once for the same channel.
func (s *Supervisor) Unsubscribe(ch <-chan clawforge.Event) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	sendCh, ok := s.subs[ch]
	if !ok {
		return
	}
	delete(s.subs, ch)
	close(sendCh)
}

// broadcast fans e out to every subscriber, non-blockingly: a full
// subscriber channel drops the event rather than stalling the Supervisor.
func (s *Supervisor) broadcast(e clawforge.Event) {
	s.broadcastMu.RLock()
	defer s.broadcastMu.RUnlock()
	for _, sendCh := range s.subs {
		select {
		case sendCh <- e:
		default:
		}
	}
}
