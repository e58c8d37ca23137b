package controller

import (
	"strconv"

	"stressjudge/internal/stress/repository"
	"stressjudge/internal/stress/service"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
)

const defaultHistoryLimit = 20

// RunController handles run HTTP endpoints.
type RunController struct {
	runService   *service.Service
	allowedHosts []string
	upgrader     websocket.Upgrader
}

// NewRunController creates a new RunController. allowedOrigins lists the
// browser origins, as host:port or full URL, that may start runs and stream
// events; when empty only same-host origins are accepted.
func NewRunController(runService *service.Service, allowedOrigins ...string) *RunController {
	h := &RunController{
		runService:   runService,
		allowedHosts: normalizeOrigins(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// Start launches a run in the background.
func (h *RunController) Start(c *gin.Context) {
	if c.ContentType() != binding.MIMEJSON {
		response.BadRequest(c, "Content-Type must be application/json")
		return
	}
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	run, err := h.runService.Start(c.Request.Context(), service.StartRequest{
		Mode:          req.Mode,
		Tests:         req.Tests,
		Workers:       req.Workers,
		StopOnFailure: req.StopOnFailure,
		FilePath:      req.FilePath,
		SnapshotPaths: req.SnapshotPaths,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, StartRunResponse{
		RunID: run.ID(),
		Mode:  run.Mode(),
	})
}

// List returns active runs and stored history.
func (h *RunController) List(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}

	history, err := h.runService.ListRuns(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ListRunsResponse{
		Active:  h.runService.Active(),
		History: history,
	})
}

// Get returns live status for an active run, otherwise the stored record.
func (h *RunController) Get(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}

	status, err := h.runService.Status(runID)
	if err == nil {
		response.Success(c, status)
		return
	}
	if !appErr.Is(err, appErr.RunNotFound) {
		response.Error(c, err)
		return
	}

	rec, err := h.runService.GetRun(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rec)
}

// Stop requests an active run to stop.
func (h *RunController) Stop(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	if err := h.runService.Stop(runID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StopRunResponse{RunID: runID, Stopping: true})
}

// Modes lists the configured test modes.
func (h *RunController) Modes(c *gin.Context) {
	response.Success(c, ModesResponse{Modes: h.runService.Modes()})
}

// StartRunRequest defines the run payload.
type StartRunRequest struct {
	Mode          string   `json:"mode" binding:"required"`
	Tests         int      `json:"tests" binding:"required"`
	Workers       int      `json:"workers"`
	StopOnFailure *bool    `json:"stopOnFailure"`
	FilePath      string   `json:"filePath"`
	SnapshotPaths []string `json:"snapshotPaths"`
}

// StartRunResponse defines the run start response payload.
type StartRunResponse struct {
	RunID string `json:"runId"`
	Mode  string `json:"mode"`
}

// ListRunsResponse defines the run listing payload.
type ListRunsResponse struct {
	Active  []service.RunStatus    `json:"active"`
	History []repository.RunRecord `json:"history"`
}

// StopRunResponse defines the stop response payload.
type StopRunResponse struct {
	RunID    string `json:"runId"`
	Stopping bool   `json:"stopping"`
}

// ModesResponse defines the modes payload.
type ModesResponse struct {
	Modes []string `json:"modes"`
}
