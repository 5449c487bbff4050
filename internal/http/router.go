package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Trigger, cfg.Version)
	router.GET("/health", health.Status)

	api := router.Group("/api")

	if cfg.Queue != nil {
		syncController := NewSyncController(cfg.Queue, cfg.Coordinator, cfg.Trigger, cfg.TaskClient)
		api.GET("/sync/status", syncController.Status)
		api.POST("/sync/run", syncController.Run)
		api.GET("/sync/dead-letters", syncController.ListDeadLetters)
		api.POST("/sync/dead-letters/:id/retry", syncController.RetryDeadLetter)
		api.DELETE("/sync/dead-letters/:id", syncController.DiscardDeadLetter)
	}

	if cfg.Study != nil {
		study := NewStudyController(cfg.Study, cfg.Trigger)
		api.POST("/attempts", study.SubmitAttempt)
		api.POST("/reviews", study.ReviewFlashcard)
		api.PUT("/progress", study.UpdateProgress)
		api.GET("/history", study.History)
		api.POST("/app/foreground", study.Foreground)
	}

	if cfg.Content != nil {
		contentController := NewContentController(cfg.Content)
		api.GET("/quizzes/:id", contentController.GetQuiz)
		api.GET("/flashcards/:id", contentController.GetFlashcard)
	}

	if cfg.TaskClient != nil {
		tasksController := NewTasksController(cfg.TaskClient)
		api.GET("/tasks/:id", tasksController.GetTaskStatus)
	}

	return router
}
