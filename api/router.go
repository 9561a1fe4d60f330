package api

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest/api/handler"
	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	splitHandler *handler.SplitHandler,
	ingestHandler *handler.IngestHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.New()

	// 追踪ID最先设置，日志和错误响应都会用到
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	api := router.Group("/api")
	{
		// 同步切分 - POST /api/split
		api.POST("/split", splitHandler.Split)

		// 切分策略 - GET /api/strategies
		api.GET("/strategies", splitHandler.Strategies)

		// 文件管理API
		docGroup := api.Group("/documents")
		{
			// 上传并切分文件 - POST /api/documents
			docGroup.POST("", ingestHandler.UploadDocument)

			// 删除文件 - DELETE /api/documents/:id
			docGroup.DELETE("/:id", ingestHandler.DeleteDocument)
		}

		// 异步批量切分 - POST /api/batches
		api.POST("/batches", ingestHandler.SubmitBatch)

		// 任务API
		taskGroup := api.Group("/tasks")
		{
			taskGroup.GET("/:id", taskHandler.GetTaskStatus)
			taskGroup.DELETE("/:id", taskHandler.CancelTask)
		}

		// 作业API
		jobGroup := api.Group("/jobs")
		{
			jobGroup.GET("", taskHandler.ListJobs)
			jobGroup.GET("/:id", taskHandler.GetJob)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
