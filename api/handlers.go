package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	clawforge "github.com/clawforge/clawforge"
)

// runView is the JSON-friendly projection of a Run: RunStateKind has no
// MarshalJSON of its own (it stays a bare int32 internally), so the API
// renders its snake_case String() form instead.
type runView struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	State       string    `json:"state"`
	Prompt      string    `json:"prompt,omitempty"`
	TokensUsed  int64     `json:"tokens_used"`
	CostUSD     float64   `json:"cost_usd"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	LastEventAt time.Time `json:"last_event_at"`
}

func toRunView(r clawforge.Run) runView {
	return runView{
		ID: r.ID, AgentID: r.AgentID, State: r.State.String(), Prompt: r.Prompt,
		TokensUsed: r.TokensUsed, CostUSD: r.CostUSD,
		StartedAt: r.StartedAt, EndedAt: r.EndedAt, LastEventAt: r.LastEventAt,
	}
}

type runSummaryView struct {
	Run    runView           `json:"run"`
	Events []clawforge.Event `json:"events"`
}

// handleListRuns handles GET /api/runs?limit=N, defaulting limit to 50.
func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	summaries, err := s.sup.GetRecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]runSummaryView, len(summaries))
	for i, sum := range summaries {
		views[i] = runSummaryView{Run: toRunView(sum.Run), Events: sum.Events}
	}
	c.JSON(http.StatusOK, gin.H{"runs": views})
}

// handleGetRun handles GET /api/runs/:id.
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")
	summary, err := s.sup.GetRunSummary(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(summary.Events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, runSummaryView{Run: toRunView(summary.Run), Events: summary.Events})
}

// handleCancelRun handles POST /api/runs/:id/cancel, routing through the bus
// so cancellation is dispatched the same way any other component would ask
// for it.
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")
	msg := clawforge.NewCancelRun(runID, "requested via api")
	if err := s.bus.Send(c.Request.Context(), clawforge.ChannelSupervisor, msg); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

// provideInputRequest is the JSON body for POST /api/runs/:id/input.
type provideInputRequest struct {
	Input string `json:"input" binding:"required"`
}

// handleProvideInput handles POST /api/runs/:id/input, resuming a run
// suspended in RunAwaitingInput.
func (s *Server) handleProvideInput(c *gin.Context) {
	runID := c.Param("id")
	var req provideInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := clawforge.NewProvideInput(runID, req.Input)
	if err := s.bus.Send(c.Request.Context(), clawforge.ChannelSupervisor, msg); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "input provided"})
}

// handleListAgents handles GET /api/agents.
func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.sup.ListAgents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// createAgentRequest is the JSON body for POST /api/agents.
type createAgentRequest struct {
	Name         string                   `json:"name" binding:"required"`
	Description  string                   `json:"description"`
	Tags         []string                 `json:"tags,omitempty"`
	Trigger      clawforge.Trigger        `json:"trigger" binding:"required"`
	Capabilities clawforge.Capabilities   `json:"capabilities"`
	LLMPolicy    clawforge.LLMPolicy      `json:"llm_policy"`
	Workflow     []clawforge.WorkflowStep `json:"workflow,omitempty"`
}

// handleCreateAgent handles POST /api/agents: persists the spec via the
// Supervisor and registers it with the Scheduler's trigger table in the
// same request, so a newly created cron/interval agent starts firing
// immediately.
func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// binding:"required" is not enforced on a non-pointer struct field, so
	// a missing trigger is caught here by its empty Kind.
	if req.Trigger.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger is required"})
		return
	}

	agent := clawforge.NewAgentSpec(req.Name, req.Description, req.Trigger,
		clawforge.WithTags(req.Tags...),
		clawforge.WithCapabilities(req.Capabilities),
		clawforge.WithLLMPolicy(req.LLMPolicy),
		clawforge.WithWorkflow(req.Workflow...),
	)

	if err := s.sup.SaveAgent(c.Request.Context(), agent); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.sched.Register(agent)

	c.JSON(http.StatusCreated, agent)
}

// handleRunAgent handles POST /api/agents/:id/run, manually firing agentID
// regardless of its configured trigger.
func (s *Server) handleRunAgent(c *gin.Context) {
	agentID := c.Param("id")
	msg := clawforge.NewJobTrigger(agentID, "manual_api")
	if err := s.bus.Send(c.Request.Context(), clawforge.ChannelScheduler, msg); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "run triggered"})
}

// handleWebhook handles POST /api/webhooks/:path, resolving path to the
// agent whose Trigger.WebhookPath matches and firing it via the Scheduler.
func (s *Server) handleWebhook(c *gin.Context) {
	path := c.Param("path")

	agents, err := s.sup.ListAgents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for _, agent := range agents {
		if agent.Trigger.Kind == clawforge.TriggerWebhook && agent.Trigger.WebhookPath == path {
			if err := s.sched.FireWebhook(c.Request.Context(), agent.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "webhook triggered", "agent_id": agent.ID})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no agent registered for webhook path"})
}
