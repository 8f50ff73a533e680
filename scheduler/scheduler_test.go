package scheduler

import (
	"context"
	"testing"
	"time"

	clawforge "github.com/clawforge/clawforge"
)

func planRequestAgentID(t *testing.T, msg clawforge.Message) string {
	t.Helper()
	if msg.Type != clawforge.MsgPlanRequest || msg.PlanRequest == nil {
		t.Fatalf("expected a plan_request message, got %+v", msg)
	}
	return msg.PlanRequest.Agent.ID
}

func TestSchedulerIntervalFiresRepeatedly(t *testing.T) {
	bus := clawforge.NewBus(16)
	plannerRx, _ := bus.TakeReceiver(clawforge.ChannelPlanner)

	s := New(bus)
	agent := clawforge.NewAgentSpec("ticker", "", clawforge.IntervalTrigger(1))
	s.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 2 {
		select {
		case msg := <-plannerRx:
			if planRequestAgentID(t, msg) == agent.ID {
				seen++
			}
		case <-deadline:
			t.Fatalf("interval agent fired %d times in 5s, want >= 2", seen)
		}
	}
}

func TestSchedulerManualJobTriggerKnownAgent(t *testing.T) {
	bus := clawforge.NewBus(16)
	plannerRx, _ := bus.TakeReceiver(clawforge.ChannelPlanner)

	s := New(bus)
	agent := clawforge.NewAgentSpec("manual-only", "", clawforge.ManualTrigger())
	s.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := bus.Send(context.Background(), clawforge.ChannelScheduler,
		clawforge.NewJobTrigger(agent.ID, "manual")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}

	select {
	case msg := <-plannerRx:
		if got := planRequestAgentID(t, msg); got != agent.ID {
			t.Errorf("dispatched agent = %q, want %q", got, agent.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched plan request")
	}
}

func TestSchedulerUnknownAgentDropped(t *testing.T) {
	bus := clawforge.NewBus(16)
	plannerRx, _ := bus.TakeReceiver(clawforge.ChannelPlanner)

	s := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := bus.Send(context.Background(), clawforge.ChannelScheduler,
		clawforge.NewJobTrigger("does-not-exist", "manual")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}

	select {
	case msg := <-plannerRx:
		t.Fatalf("unexpected plan request for unknown agent: %+v", msg)
	case <-time.After(200 * time.Millisecond):
		// expected: nothing dispatched
	}
}

func TestSchedulerInvalidCronDisablesTimeTriggerOnly(t *testing.T) {
	bus := clawforge.NewBus(16)
	plannerRx, _ := bus.TakeReceiver(clawforge.ChannelPlanner)

	s := New(bus)
	agent := clawforge.NewAgentSpec("bad-cron", "", clawforge.CronTrigger("not a cron expression"))
	s.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case msg := <-plannerRx:
		t.Fatalf("invalid cron agent should never fire on its own, got %+v", msg)
	case <-time.After(1200 * time.Millisecond):
		// expected: no autonomous fire
	}

	// Still reachable manually.
	if err := bus.Send(context.Background(), clawforge.ChannelScheduler,
		clawforge.NewJobTrigger(agent.ID, "manual")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}
	select {
	case msg := <-plannerRx:
		if got := planRequestAgentID(t, msg); got != agent.ID {
			t.Errorf("dispatched agent = %q, want %q", got, agent.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("agent with invalid cron should still be manually dispatchable")
	}
}

func TestSchedulerFireWebhook(t *testing.T) {
	bus := clawforge.NewBus(16)
	plannerRx, _ := bus.TakeReceiver(clawforge.ChannelPlanner)

	s := New(bus)
	agent := clawforge.NewAgentSpec("hook", "", clawforge.WebhookTrigger("/hooks/deploy"))
	s.Register(agent)

	if err := s.FireWebhook(context.Background(), agent.ID); err != nil {
		t.Fatalf("FireWebhook returned unexpected error: %v", err)
	}

	select {
	case msg := <-plannerRx:
		if got := planRequestAgentID(t, msg); got != agent.ID {
			t.Errorf("dispatched agent = %q, want %q", got, agent.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for webhook-fired plan request")
	}
}

func TestSchedulerFireWebhookUnknownAgent(t *testing.T) {
	bus := clawforge.NewBus(16)
	s := New(bus)

	err := s.FireWebhook(context.Background(), "ghost")
	kind, ok := clawforge.ErrorKindOf(err)
	if !ok || kind != clawforge.KindUnknownAgent {
		t.Errorf("FireWebhook error = %v, want KindUnknownAgent", err)
	}
}

func TestSchedulerUnregister(t *testing.T) {
	bus := clawforge.NewBus(16)
	s := New(bus)
	agent := clawforge.NewAgentSpec("temp", "", clawforge.IntervalTrigger(1))
	s.Register(agent)
	s.Unregister(agent.ID)

	err := s.FireWebhook(context.Background(), agent.ID)
	kind, ok := clawforge.ErrorKindOf(err)
	if !ok || kind != clawforge.KindUnknownAgent {
		t.Errorf("FireWebhook after Unregister error = %v, want KindUnknownAgent", err)
	}
}
