// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/internal/manager"
	"github.com/Slade66/fetchd/internal/store"
	"github.com/Slade66/fetchd/internal/validation"
	"github.com/Slade66/fetchd/pkg/task"
)

// TaskService 是 API 依赖的任务管理能力，*manager.Manager 实现了它。
type TaskService interface {
	CreateTask(ctx context.Context, urls []string) (string, error)
	GetTask(id string) (*task.DownloadTask, error)
	ListTasks() []*task.DownloadTask
}

// Handler 处理任务相关的 HTTP 请求。
type Handler struct {
	tasks TaskService
	log   zerolog.Logger
}

// NewHandler 创建一个新的 Handler
func NewHandler(tasks TaskService) *Handler {
	return &Handler{tasks: tasks, log: logger.Get("api")}
}

type createTaskRequest struct {
	URLs []string `json:"urls"`
}

// createTask 处理 POST /tasks
func (h *Handler) createTask(c *gin.Context) {
	var request createTaskRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求: " + err.Error()})
		return
	}

	id, err := h.tasks.CreateTask(c.Request.Context(), request.URLs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	body := gin.H{"id": id, "status": task.StatusPending}
	if t, err := h.tasks.GetTask(id); err == nil {
		body["status"] = t.Status
	}
	c.JSON(http.StatusCreated, body)
}

// getTask 处理 GET /tasks/:id
func (h *Handler) getTask(c *gin.Context) {
	t, err := h.tasks.GetTask(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// listTasks 处理 GET /tasks，最新的任务排在前面
func (h *Handler) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.tasks.ListTasks())
}

// writeError 把错误类型映射为状态码，内部错误不把细节暴露给客户端。
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		verr *validation.Error
		perr *store.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, manager.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
	case errors.As(err, &perr), errors.Is(err, manager.ErrClosed):
		h.log.Error().Err(err).Msg("任务存储暂不可用")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务暂不可用，请稍后重试"})
	default:
		h.log.Error().Err(err).Msg("处理请求失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}
