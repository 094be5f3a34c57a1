// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter 注册任务接口、健康检查和指标接口。
func NewRouter(tasks TaskService) *gin.Engine {
	h := NewHandler(tasks)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))

	tasksGroup := router.Group("/tasks")
	{
		tasksGroup.POST("", h.createTask)
		tasksGroup.GET("", h.listTasks)
		tasksGroup.GET("/:id", h.getTask)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestLogger 用 zerolog 记录每个请求，替代 gin 自带的文本日志。
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("请求完成")
	}
}
