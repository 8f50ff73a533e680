// Package scheduler evaluates agent triggers and dispatches PlanRequest
// messages at the right time. It owns the scheduler_in receiver and sends
// on planner_in.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/telemetry"
)

// timedEntry tracks the next-fire bookkeeping for one time-driven agent.
type timedEntry struct {
	agent        clawforge.AgentSpec
	nextFire     time.Time
	cronSchedule cron.Schedule // nil for Interval triggers
	disabled     bool          // set when a Cron expression fails to parse
}

// Scheduler holds the set of registered agents and fires PlanRequest
// messages on a 1-second tick, cooperating with its own scheduler_in queue
// for ScheduleJob (manual/webhook) dispatch.
type Scheduler struct {
	bus    *clawforge.Bus
	log    *slog.Logger
	parser cron.Parser
	tracer clawforge.Tracer       // nil = tracing disabled
	ins    *telemetry.Instruments // nil = metrics disabled

	mu      sync.Mutex
	entries map[string]*timedEntry // agent ID -> entry, time-triggered agents only
	agents  map[string]clawforge.AgentSpec
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithTracer enables span creation around each dispatch.
func WithTracer(t clawforge.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithInstruments enables triggers-fired metric recording.
func WithInstruments(ins *telemetry.Instruments) Option {
	return func(s *Scheduler) { s.ins = ins }
}

// New constructs a Scheduler bound to bus. It does not start ticking until
// Run is called.
func New(bus *clawforge.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		bus:     bus,
		log:     slog.Default(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: make(map[string]*timedEntry),
		agents:  make(map[string]clawforge.AgentSpec),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an agent to the scheduler's trigger table. Invalid cron
// expressions are logged and leave the agent reachable only via ScheduleJob
// (manual dispatch), per the spec's disable-time-trigger-not-agent rule.
func (s *Scheduler) Register(agent clawforge.AgentSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent

	switch agent.Trigger.Kind {
	case clawforge.TriggerCron:
		sched, err := s.parser.Parse(agent.Trigger.CronExpression)
		if err != nil {
			s.log.Error("invalid cron expression, time trigger disabled",
				"agent_id", agent.ID, "expression", agent.Trigger.CronExpression, "error", err)
			s.entries[agent.ID] = &timedEntry{agent: agent, disabled: true}
			return
		}
		now := clawforge.NowUTC()
		s.entries[agent.ID] = &timedEntry{agent: agent, cronSchedule: sched, nextFire: sched.Next(now)}
	case clawforge.TriggerInterval:
		now := clawforge.NowUTC()
		next := now.Add(time.Duration(agent.Trigger.IntervalSeconds) * time.Second)
		s.entries[agent.ID] = &timedEntry{agent: agent, nextFire: next}
	default:
		// Webhook and Manual triggers have no time-based entry; they fire
		// only via ScheduleJob / external webhook dispatch.
	}
}

// Unregister removes an agent from both the agent table and any time
// trigger entry.
func (s *Scheduler) Unregister(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
	delete(s.entries, agentID)
}

// Run starts the 1-second tick loop and the scheduler_in drain loop. Blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	rx, ok := s.bus.TakeReceiver(clawforge.ChannelScheduler)
	if !ok {
		s.log.Error("scheduler_in receiver already taken; scheduler cannot run")
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	s.log.Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		case msg, ok := <-rx:
			if !ok {
				return
			}
			s.handleMessage(ctx, msg)
		}
	}
}

// tick fires every due time-triggered agent and reschedules it.
func (s *Scheduler) tick(ctx context.Context) {
	now := clawforge.NowUTC()

	var due []clawforge.AgentSpec
	s.mu.Lock()
	for _, e := range s.entries {
		if e.disabled || e.nextFire.After(now) {
			continue
		}
		due = append(due, e.agent)
		if e.cronSchedule != nil {
			e.nextFire = e.cronSchedule.Next(now)
		} else {
			e.nextFire = now.Add(time.Duration(e.agent.Trigger.IntervalSeconds) * time.Second)
		}
	}
	s.mu.Unlock()

	for _, agent := range due {
		s.dispatch(ctx, agent, "trigger_fired")
	}
}

// handleMessage drains scheduler_in: JobTrigger with a known agent ID
// dispatches immediately; unknown agent IDs are logged and dropped.
func (s *Scheduler) handleMessage(ctx context.Context, msg clawforge.Message) {
	if msg.Type != clawforge.MsgJobTrigger || msg.JobTrigger == nil {
		return
	}
	s.mu.Lock()
	agent, ok := s.agents[msg.JobTrigger.AgentID]
	s.mu.Unlock()
	if !ok {
		s.log.Warn("job trigger for unknown agent, dropped",
			"agent_id", msg.JobTrigger.AgentID)
		return
	}
	s.dispatch(ctx, agent, msg.JobTrigger.Reason)
}

// dispatch allocates a run_id, emits the run's opening TriggerFired audit
// event, and sends a PlanRequest to planner_in. Per spec, a run's first
// persisted event is RunStarted or TriggerFired; the Scheduler, being a
// channel adapter, emits the latter.
func (s *Scheduler) dispatch(ctx context.Context, agent clawforge.AgentSpec, reason string) {
	runID := clawforge.NewID()

	if s.tracer != nil {
		var span clawforge.Span
		ctx, span = s.tracer.Start(ctx, "scheduler.dispatch",
			clawforge.StringAttr("run_id", runID), clawforge.StringAttr("agent_id", agent.ID),
			clawforge.StringAttr("reason", reason))
		defer span.End()
	}
	if s.ins != nil {
		s.ins.TriggersFired.Add(ctx, 1)
	}

	evt, err := clawforge.NewEvent(runID, agent.ID, clawforge.EventTriggerFired, clawforge.TriggerFiredPayload{
		TriggerKind: agent.Trigger.Kind,
		Reason:      reason,
	})
	if err != nil {
		s.log.Error("failed to build trigger_fired event", "agent_id", agent.ID, "run_id", runID, "error", err)
		return
	}
	if err := s.bus.Send(ctx, clawforge.ChannelSupervisor, clawforge.NewRunEvent(evt)); err != nil {
		s.log.Error("failed to emit trigger_fired event", "agent_id", agent.ID, "run_id", runID, "error", err)
	}

	if err := s.bus.Send(ctx, clawforge.ChannelPlanner, clawforge.NewPlanRequest(runID, agent, reason)); err != nil {
		s.log.Error("failed to dispatch plan request", "agent_id", agent.ID, "run_id", runID, "error", err)
	}
}

// FireWebhook triggers agentID as if its webhook path had been hit
// externally. The caller (the api package) resolves path -> agent ID.
func (s *Scheduler) FireWebhook(ctx context.Context, agentID string) error {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return clawforge.NewError(clawforge.KindUnknownAgent, "Scheduler.FireWebhook", nil)
	}
	s.dispatch(ctx, agent, "webhook")
	return nil
}
