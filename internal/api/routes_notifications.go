package api

import (
	"github.com/gin-gonic/gin"

	"github.com/maelcorre/fleetdesk/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/stats", handler.Stats)
		group.POST("", handler.Create)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
		group.POST("/:id/archive", handler.Archive)
		group.DELETE("/:id", handler.Delete)
	}
}
