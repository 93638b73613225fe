package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/orchestrator"
)

// taskRunner is the interface expected by TaskHandler, satisfied by
// *orchestrator.Orchestrator.
type taskRunner interface {
	Submit(taskType string, data map[string]any) (string, error)
	Task(id string) (*orchestrator.Task, bool)
	Health() *orchestrator.Health
}

// TaskHandler exposes task submission and health over HTTP.
type TaskHandler struct {
	orch   taskRunner
	logger *zap.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(orch taskRunner, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{orch: orch, logger: logger}
}

// Register mounts the task routes on the given router group.
func (h *TaskHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/tasks")
	{
		t.POST("", h.Submit)
		t.GET("/:id", h.Get)
	}
}

type taskRequest struct {
	TaskType string         `json:"task_type" binding:"required"`
	Data     map[string]any `json:"data"`
}

// Submit handles POST /tasks — enqueues a task and returns its id without
// waiting for execution. A full queue is reported as 503 so callers can back
// off.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type is required"})
		return
	}

	id, err := h.orch.Submit(req.TaskType, req.Data)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownTaskType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, orchestrator.ErrQueueFull):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue full, retry later"})
		return
	case err != nil:
		h.logger.Error("submit task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit task"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": id,
		"status":  orchestrator.TaskPending,
	})
}

// Get handles GET /tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, ok := h.orch.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Health handles GET /healthz — always 200 with best-effort JSON; degraded
// dependencies show up in the body, not the status code.
func (h *TaskHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Health())
}
