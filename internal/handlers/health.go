package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maelcorre/fleetdesk/pkg/response"
)

// LivenessObserver exposes the connection count reported by health checks.
type LivenessObserver interface {
	ActiveConnections() int64
}

// Health returns a simple status payload useful for readiness checks.
func Health(observer LivenessObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}
		if observer != nil {
			payload["active_connections"] = observer.ActiveConnections()
		}
		response.Success(c, http.StatusOK, payload)
	}
}
