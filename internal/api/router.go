package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maelcorre/fleetdesk/internal/app"
	iauth "github.com/maelcorre/fleetdesk/internal/auth"
	"github.com/maelcorre/fleetdesk/internal/handlers"
	"github.com/maelcorre/fleetdesk/internal/middleware"
	"github.com/maelcorre/fleetdesk/internal/realtime"
	"github.com/maelcorre/fleetdesk/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, jwt *iauth.JWTService, service *services.NotificationService, hub *realtime.Hub, gate *realtime.Authenticator) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if gate == nil {
		return nil, fmt.Errorf("channel authenticator must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	notificationHandler, err := handlers.NewNotificationHandler(service, hub, gate)
	if err != nil {
		return nil, err
	}

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(hub))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// The notification channel authenticates via its query parameter, not the
	// bearer middleware: upgrade requests cannot carry headers.
	r.GET(gate.ChannelPath(), notificationHandler.Stream)

	registerNotificationRoutes(r.Group("/api", middleware.Auth(jwt)), notificationHandler)

	return r, nil
}
