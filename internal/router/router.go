package router

import (
	"github.com/blues/tms/internal/handler"
	"github.com/blues/tms/internal/logic"
	"github.com/gin-gonic/gin"
)

func Setup(taskLogic *logic.TaskLogic) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "task-market-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		taskHandler := handler.NewTaskHandler(taskLogic)
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.GetTasks)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.GET("/:id/payload", taskHandler.GetTaskPayload)
			tasks.GET("/:id/events", taskHandler.GetTaskEvents)
			tasks.GET("/:id/receipt", taskHandler.GetTaskReceipt)
			tasks.POST("/:id/confirm-funding", taskHandler.ConfirmFunding)
			tasks.POST("/:id/claim", taskHandler.ClaimTask)
			tasks.POST("/:id/submit", taskHandler.SubmitResult)
			tasks.POST("/:id/accept", taskHandler.AcceptResult)
			tasks.POST("/:id/reject", taskHandler.RejectResult)
			tasks.POST("/:id/refund", taskHandler.RefundTask)
		}

		eventHandler := handler.NewEventHandler(taskLogic.Events())
		v1.GET("/events", eventHandler.GetFeed)
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
