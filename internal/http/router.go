package http

import (
	"github.com/gin-gonic/gin"

	"github.com/thruflo/torque/internal/http/handler"
)

// NewRouter 组装 ingress 路由。
// HSTS 按配置作用于全部路由（含健康检查）；健康检查不走认证，
// 业务路由按配置挂共享凭证校验。
func NewRouter(h *handler.Handler, authenticate bool, authToken string, enableHSTS bool) *gin.Engine {
	engine := gin.Default()

	if enableHSTS {
		engine.Use(handler.HSTS())
	}

	engine.GET("/healthz", h.Healthz)
	engine.GET("/readyz", h.Readyz)

	api := engine.Group("/")
	if authenticate {
		api.Use(handler.RequireAuth(authToken))
	}
	{
		api.POST("", h.Enqueue)
		api.GET("tasks/:id", h.GetTask)
		api.DELETE("tasks/:id", h.DeleteTask)
		api.DELETE("", h.Purge)
		api.GET("stats", h.Stats)
	}
	return engine
}
