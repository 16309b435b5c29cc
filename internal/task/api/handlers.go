// Package api serves the HTTP control plane consumed by the CLI client.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/task/models"
	"github.com/ccsched/ccsched/internal/task/repository"
)

// Handler contains the HTTP handlers for task management.
type Handler struct {
	store  *repository.Store
	logger *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(store *repository.Store, log *logger.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: log.WithFields(zap.String("component", "task-api")),
	}
}

// SubmitTask handles POST /submit.
func (h *Handler) SubmitTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	id, err := h.store.CreateTask(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CreateTaskResponse{TaskID: id})
}

// ListTasks handles GET /list.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	infos := make([]models.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, models.NewTaskInfo(task))
	}
	c.JSON(http.StatusOK, models.TaskListResponse{Tasks: infos})
}

// GetTask handles GET /task/:id.
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, err := h.store.GetTask(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewTaskDetail(task))
}

// GetTaskBySession handles GET /task/session/:session_id.
func (h *Handler) GetTaskBySession(c *gin.Context) {
	task, err := h.store.GetTaskBySession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewTaskInfo(task))
}

// DeleteTask handles DELETE /task/:id.
func (h *Handler) DeleteTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenameTask handles PUT /task/:id/rename.
func (h *Handler) RenameTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	var req models.RenameTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.store.UpdateName(c.Request.Context(), id, req.Name); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "name": req.Name})
}

// EditTask handles PUT /task/:id/edit. Editing a finished task requeues it
// with the new prompt; editing an active one only replaces the prompt.
func (h *Handler) EditTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	var req models.EditTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	task, err := h.store.GetTask(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	requeued := task.Status.Terminal()
	if requeued {
		err = h.store.EditAndReset(ctx, id, req.Prompt)
	} else {
		err = h.store.UpdatePrompt(ctx, id, req.Prompt)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "requeued": requeued})
}

func (h *Handler) taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.respondError(c, apperrors.BadRequest("invalid task id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
