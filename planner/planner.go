// Package planner turns a PlanRequest into an executable ProposedAction by
// racing LLM providers: the first provider to succeed wins, and the rest
// are cancelled best-effort and their results discarded.
package planner

import (
	"context"
	"log/slog"
	"time"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/provider"
	"github.com/clawforge/clawforge/telemetry"
)

// Planner owns the planner_in receiver, races the providers named in each
// request's LLMPolicy, and sends an ActionProposal (or a RunFailed audit
// event) downstream.
type Planner struct {
	bus      *clawforge.Bus
	registry *provider.Registry
	log      *slog.Logger
	tracer   clawforge.Tracer      // nil = tracing disabled
	ins      *telemetry.Instruments // nil = metrics disabled
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// WithTracer enables span creation around each provider race.
func WithTracer(t clawforge.Tracer) Option {
	return func(p *Planner) { p.tracer = t }
}

// WithInstruments enables race-won/race-lost/latency metric recording.
func WithInstruments(ins *telemetry.Instruments) Option {
	return func(p *Planner) { p.ins = ins }
}

// New constructs a Planner bound to bus and registry.
func New(bus *clawforge.Bus, registry *provider.Registry, opts ...Option) *Planner {
	p := &Planner{bus: bus, registry: registry, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains planner_in until ctx is cancelled, handling each PlanRequest
// in its own goroutine so a slow race never blocks the next request.
func (p *Planner) Run(ctx context.Context) {
	rx, ok := p.bus.TakeReceiver(clawforge.ChannelPlanner)
	if !ok {
		p.log.Error("planner_in receiver already taken; planner cannot run")
		return
	}

	p.log.Info("planner started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("planner stopped")
			return
		case msg, ok := <-rx:
			if !ok {
				return
			}
			if msg.Type != clawforge.MsgPlanRequest || msg.PlanRequest == nil {
				continue
			}
			req := *msg.PlanRequest
			go p.handle(ctx, req)
		}
	}
}

// raceResult carries one provider's outcome back to the race collector.
type raceResult struct {
	resp provider.Response
	err  error
}

// handle resolves the request's providers, races them, and emits the
// resulting audit events plus (on success) an ActionProposal.
func (p *Planner) handle(ctx context.Context, req clawforge.PlanRequest) {
	start := time.Now()
	if p.tracer != nil {
		var span clawforge.Span
		ctx, span = p.tracer.Start(ctx, "planner.race",
			clawforge.StringAttr("run_id", req.RunID), clawforge.StringAttr("agent_id", req.Agent.ID))
		defer span.End()
	}

	providers := p.registry.Resolve(req.Agent.LLMPolicy.Providers)
	if len(providers) == 0 {
		p.emitRunFailed(ctx, req, clawforge.KindAllProvidersFailed, "no configured providers resolved")
		return
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(providers))
	for _, prov := range providers {
		prov := prov
		go func() {
			resp, err := prov.Complete(raceCtx, provider.Request{
				Model:        req.Agent.LLMPolicy.Model,
				SystemPrompt: req.Agent.LLMPolicy.SystemPrompt,
				Prompt:       req.Input,
				MaxTokens:    req.Agent.LLMPolicy.MaxTokens,
				Temperature:  req.Agent.LLMPolicy.Temperature,
			})
			if err == nil {
				resp.Provider = prov.Name()
			}
			results <- raceResult{resp: resp, err: err}
		}()
	}

	var lastErr error
	for i := 0; i < len(providers); i++ {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			p.log.Warn("provider failed in race", "run_id", req.RunID, "error", r.err)
			continue
		}
		// First Ok wins: cancel the remaining in-flight calls (best effort;
		// their results, if any, land in the buffered channel unread).
		cancel()
		if p.ins != nil {
			p.ins.ProviderRaceWon.Add(ctx, 1)
			p.ins.PlanLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
		p.emitPlanGenerated(ctx, req, r.resp)
		return
	}

	if p.ins != nil {
		p.ins.ProviderRaceLost.Add(ctx, int64(len(providers)))
	}
	reason := "all providers failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	p.emitRunFailed(ctx, req, clawforge.KindAllProvidersFailed, reason)
}

func (p *Planner) emitPlanGenerated(ctx context.Context, req clawforge.PlanRequest, resp provider.Response) {
	action := clawforge.LLMResponse(clawforge.LLMResponseAction{Text: resp.Content})

	evt, err := clawforge.NewEvent(req.RunID, req.Agent.ID, clawforge.EventPlanGenerated, clawforge.PlanGeneratedPayload{
		Provider:   resp.Provider,
		Action:     action,
		TokensUsed: resp.TokensUsed,
	})
	if err != nil {
		p.log.Error("failed to build plan_generated event", "run_id", req.RunID, "error", err)
		return
	}
	if err := p.bus.Send(ctx, clawforge.ChannelSupervisor, clawforge.NewRunEvent(evt)); err != nil {
		p.log.Error("failed to emit plan_generated event", "run_id", req.RunID, "error", err)
	}

	proposal := clawforge.NewActionProposal(req.RunID, req.Agent.ID, 0, action)
	if err := p.bus.Send(ctx, clawforge.ChannelExecutor, proposal); err != nil {
		p.log.Error("failed to send action proposal", "run_id", req.RunID, "error", err)
	}
}

func (p *Planner) emitRunFailed(ctx context.Context, req clawforge.PlanRequest, kind clawforge.ErrorKind, reason string) {
	evt, err := clawforge.NewEvent(req.RunID, req.Agent.ID, clawforge.EventRunFailed, clawforge.RunFailedPayload{
		Kind: kind, Reason: reason,
	})
	if err != nil {
		p.log.Error("failed to build run_failed event", "run_id", req.RunID, "error", err)
		return
	}
	if err := p.bus.Send(ctx, clawforge.ChannelSupervisor, clawforge.NewRunEvent(evt)); err != nil {
		p.log.Error("failed to emit run_failed event", "run_id", req.RunID, "error", err)
	}
}
