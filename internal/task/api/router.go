package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ccsched/ccsched/internal/common/httpmw"
	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/task/repository"
)

// NewRouter builds the gin engine with the task routes and shared middleware.
func NewRouter(store *repository.Store, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(log))
	router.Use(httpmw.Recovery(log))

	handler := NewHandler(store, log)

	router.POST("/submit", handler.SubmitTask)
	router.GET("/list", handler.ListTasks)
	router.GET("/task/:id", handler.GetTask)
	router.GET("/task/session/:session_id", handler.GetTaskBySession)
	router.DELETE("/task/:id", handler.DeleteTask)
	router.PUT("/task/:id/rename", handler.RenameTask)
	router.PUT("/task/:id/edit", handler.EditTask)

	return router
}
