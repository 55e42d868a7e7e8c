package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bastionwaf/events"
	"bastionwaf/inspection"
	"bastionwaf/lifecycle"
	"bastionwaf/rules"
	"bastionwaf/waf"
)

type handlers struct {
	logger zerolog.Logger
	deps   Deps
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Controller.Status())
}

func (h *handlers) start(c *gin.Context) {
	h.engineCommand(c, h.deps.Controller.Start(c.Request.Context()))
}

func (h *handlers) stop(c *gin.Context) {
	h.engineCommand(c, h.deps.Controller.Stop(c.Request.Context()))
}

func (h *handlers) restart(c *gin.Context) {
	h.engineCommand(c, h.deps.Controller.Restart(c.Request.Context()))
}

func (h *handlers) forceStop(c *gin.Context) {
	h.engineCommand(c, h.deps.Controller.ForceStop())
}

func (h *handlers) reload(c *gin.Context) {
	h.engineCommand(c, h.deps.Controller.Reload(c.Request.Context()))
}

// engineCommand responds with the updated status on success and a
// classified error otherwise, so the console can render either.
func (h *handlers) engineCommand(c *gin.Context, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Controller.Status())
}

type inspectHeader struct {
	K string `json:"key" binding:"required"`
	V string `json:"value"`
}

func (h inspectHeader) Key() string   { return h.K }
func (h inspectHeader) Value() string { return h.V }

// inspectRequest is the dataplane envelope: how an edge proxy describes
// one inbound request it wants a verdict on.
type inspectRequest struct {
	Method     string          `json:"method" binding:"required"`
	URI        string          `json:"uri" binding:"required"`
	Protocol   string          `json:"protocol"`
	Host       string          `json:"host" binding:"required"`
	RemoteAddr string          `json:"remoteAddr"`
	LocalAddr  string          `json:"localAddr"`
	RequestID  string          `json:"requestId"`
	HeaderList []inspectHeader `json:"headers"`
}

// inspectedRequest adapts the envelope to the pipeline's request view.
type inspectedRequest struct {
	req inspectRequest
}

func (r inspectedRequest) Method() string        { return r.req.Method }
func (r inspectedRequest) URI() string           { return r.req.URI }
func (r inspectedRequest) Protocol() string      { return r.req.Protocol }
func (r inspectedRequest) RemoteAddr() string    { return r.req.RemoteAddr }
func (r inspectedRequest) LocalAddr() string     { return r.req.LocalAddr }
func (r inspectedRequest) Host() string          { return r.req.Host }
func (r inspectedRequest) TransactionID() string { return r.req.RequestID }

func (r inspectedRequest) Headers() []waf.HeaderPair {
	headers := make([]waf.HeaderPair, 0, len(r.req.HeaderList))
	for _, h := range r.req.HeaderList {
		headers = append(headers, h)
	}
	return headers
}

type inspectMatch struct {
	RuleID  int    `json:"ruleId"`
	Message string `json:"message"`
}

type inspectResponse struct {
	Decision string         `json:"decision"`
	Matches  []inspectMatch `json:"matches"`
}

// inspect evaluates one request against the live rule set and returns the
// verdict. Requests arriving while the engine is not running are turned
// away with 503 so the edge can fall back to its own pass/deny policy.
func (h *handlers) inspect(c *gin.Context) {
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.deps.Pipeline.Inspect(c.Request.Context(), inspectedRequest{req: req})
	if err != nil {
		if errors.Is(err, inspection.ErrNotAccepting) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}

	resp := inspectResponse{
		Decision: verdict.Decision.String(),
		Matches:  make([]inspectMatch, 0, len(verdict.Matches)),
	}
	for _, m := range verdict.Matches {
		resp.Matches = append(resp.Matches, inspectMatch{RuleID: m.RuleID, Message: m.Log.Message})
	}
	c.JSON(http.StatusOK, resp)
}

type logQueryRequest struct {
	waf.LogFilter
	Page     int `json:"page" binding:"omitempty,min=1"`
	PageSize int `json:"pageSize" binding:"omitempty,min=1"`
}

func (h *handlers) queryLogs(c *gin.Context) {
	var req logQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.deps.Logs.FindLogs(c.Request.Context(), req.LogFilter, req.Page, req.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type eventQueryRequest struct {
	events.Filter
	Page     int `json:"page" binding:"omitempty,min=1"`
	PageSize int `json:"pageSize" binding:"omitempty,min=1"`
}

func (h *handlers) queryEvents(c *gin.Context) {
	var req eventQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.deps.Events.Query(req.Filter, req.Page, req.PageSize))
}

// publishRules validates a new rule set against the current sites before
// accepting it, then reloads so the live pipeline picks it up. Rules
// published while the engine is stopped take effect on the next start.
func (h *handlers) publishRules(c *gin.Context) {
	var defs []rules.RuleDef
	if err := c.ShouldBindJSON(&defs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := rules.Build(defs, h.deps.Source.Sites(), h.deps.BuildOpts); err != nil {
		respondError(c, err)
		return
	}

	h.deps.Source.SetRules(defs)

	if h.deps.Controller.State() == lifecycle.Running {
		if err := h.deps.Controller.Reload(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError classifies core errors for the console: rejected publishes
// are client errors, rejected lifecycle commands are conflicts, the rest
// are server errors.
func respondError(c *gin.Context, err error) {
	var buildErr *rules.BuildError
	var lifecycleErr *lifecycle.LifecycleError
	switch {
	case errors.As(err, &buildErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": buildErr.Error(), "ruleId": buildErr.RuleID})
	case errors.As(err, &lifecycleErr):
		c.JSON(http.StatusConflict, gin.H{"error": lifecycleErr.Error(), "state": lifecycleErr.State.String()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
