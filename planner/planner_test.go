package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/provider"
	"github.com/clawforge/clawforge/provider/mock"
)

func newTestBus() (*clawforge.Bus, <-chan clawforge.Message, <-chan clawforge.Message) {
	bus := clawforge.NewBus(16)
	supervisorRx, _ := bus.TakeReceiver(clawforge.ChannelSupervisor)
	executorRx, _ := bus.TakeReceiver(clawforge.ChannelExecutor)
	return bus, supervisorRx, executorRx
}

func agentWithProviders(names ...string) clawforge.AgentSpec {
	return clawforge.NewAgentSpec("planner-test", "", clawforge.ManualTrigger(),
		clawforge.WithLLMPolicy(clawforge.LLMPolicy{Providers: names, Model: "m"}))
}

func TestPlannerFastProviderWins(t *testing.T) {
	bus, supervisorRx, executorRx := newTestBus()
	reg := provider.NewRegistry()
	reg.Register(mock.New("fast", "fast-answer"))
	reg.Register(mock.New("slow", "slow-answer", mock.WithDelay(2*time.Second)))

	p := New(bus, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	agent := agentWithProviders("fast", "slow")
	runID := clawforge.NewID()
	if err := bus.Send(context.Background(), clawforge.ChannelPlanner,
		clawforge.NewPlanRequest(runID, agent, "hello")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}

	select {
	case msg := <-executorRx:
		if msg.Type != clawforge.MsgActionProposal || msg.ActionProposal == nil {
			t.Fatalf("expected action_proposal, got %+v", msg)
		}
		if msg.ActionProposal.Action.LLM == nil || msg.ActionProposal.Action.LLM.Text != "fast-answer" {
			t.Errorf("proposal = %+v, want fast-answer", msg.ActionProposal.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action proposal")
	}

	select {
	case evt := <-supervisorRx:
		if evt.Type != clawforge.MsgRunEvent || evt.RunEvent.Event.Kind != clawforge.EventPlanGenerated {
			t.Errorf("expected plan_generated event, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for plan_generated event")
	}
}

func TestPlannerAllProvidersFail(t *testing.T) {
	bus, supervisorRx, _ := newTestBus()
	reg := provider.NewRegistry()
	reg.Register(mock.New("a", "", mock.WithError(errors.New("down"))))
	reg.Register(mock.New("b", "", mock.WithError(errors.New("also down"))))

	p := New(bus, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	agent := agentWithProviders("a", "b")
	runID := clawforge.NewID()
	if err := bus.Send(context.Background(), clawforge.ChannelPlanner,
		clawforge.NewPlanRequest(runID, agent, "hello")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}

	select {
	case evt := <-supervisorRx:
		if evt.RunEvent.Event.Kind != clawforge.EventRunFailed {
			t.Errorf("expected run_failed event, got %+v", evt.RunEvent.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run_failed event")
	}
}

func TestPlannerNoProvidersResolved(t *testing.T) {
	bus, supervisorRx, _ := newTestBus()
	reg := provider.NewRegistry()

	p := New(bus, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	agent := agentWithProviders("ghost")
	runID := clawforge.NewID()
	if err := bus.Send(context.Background(), clawforge.ChannelPlanner,
		clawforge.NewPlanRequest(runID, agent, "hello")); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}

	select {
	case evt := <-supervisorRx:
		var payload clawforge.RunFailedPayload
		if evt.RunEvent.Event.Kind != clawforge.EventRunFailed {
			t.Fatalf("expected run_failed event, got %+v", evt.RunEvent.Event)
		}
		_ = payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run_failed event")
	}
}
