package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyerfyer/doc-rag-assistant/api/handler"
	"github.com/fyerfyer/doc-rag-assistant/api/middleware"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	sessionHandler *handler.SessionHandler,
	metrics *middleware.Metrics,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(metrics.Handler())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			// 上传文档并创建会话 - POST /api/sessions
			sessions.POST("", sessionHandler.CreateSession)

			// 回答问题 - POST /api/sessions/:id/answer
			sessions.POST("/:id/answer", sessionHandler.Answer)

			// 检索片段 - POST /api/sessions/:id/search
			sessions.POST("/:id/search", sessionHandler.Search)

			// 释放会话 - DELETE /api/sessions/:id
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
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
