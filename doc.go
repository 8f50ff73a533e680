// Package clawforge implements the agent-execution pipeline of the ClawForge
// runtime: a typed, bounded message bus connecting a trigger Scheduler, a
// provider-racing Planner, a capability-gated Executor, and an event-sourcing
// Supervisor.
//
// Agents are declared with AgentSpec and registered with the Supervisor.
// Triggers produce PlanRequest messages, the Planner races LLM providers to
// produce a ProposedAction, the Executor validates and runs it, and every
// stage emits an Event that the Supervisor persists to the append-only Event
// Store and broadcasts to live subscribers.
package clawforge
