package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/maelcorre/fleetdesk/internal/middleware"
	"github.com/maelcorre/fleetdesk/internal/models"
	"github.com/maelcorre/fleetdesk/internal/realtime"
	"github.com/maelcorre/fleetdesk/internal/services"
	"github.com/maelcorre/fleetdesk/pkg/errors"
	"github.com/maelcorre/fleetdesk/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for the notification core.
type NotificationHandler struct {
	service *services.NotificationService
	hub     *realtime.Hub
	gate    *realtime.Authenticator
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService, hub *realtime.Hub, gate *realtime.Authenticator) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("HANDLER_INIT", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{service: service, hub: hub, gate: gate}, nil
}

// List returns notifications for the current user.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.service.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID:     userID,
		Limit:      parseIntQuery(c, "limit", 25),
		Offset:     parseIntQuery(c, "offset", 0),
		UnreadOnly: c.Query("unread") == "true",
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

type createNotificationPayload struct {
	UserID            int64          `json:"user_id" validate:"required,gt=0"`
	Title             string         `json:"title" validate:"required,max=255"`
	Message           string         `json:"message"`
	Category          string         `json:"category" validate:"required,oneof=Mission Task Reservation Incident System Alert"`
	Priority          string         `json:"priority" validate:"omitempty,oneof=Low Normal High Urgent"`
	RelatedEntityType string         `json:"related_entity_type"`
	RelatedEntityID   *int64         `json:"related_entity_id"`
	Metadata          map[string]any `json:"metadata"`
	ExpiryDate        *time.Time     `json:"expiry_date"`
	Audience          string         `json:"audience" validate:"omitempty,oneof=user all role"`
	RoleCode          string         `json:"role_code" validate:"required_if=Audience role,omitempty,rolecode"`
}

// Create persists a notification and fans it out to the requested audience.
// Producers inside the back office (mission, reservation, incident services)
// call this endpoint when a domain event fires.
func (h *NotificationHandler) Create(c *gin.Context) {
	var payload createNotificationPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	audience := services.SingleUser(payload.UserID)
	switch payload.Audience {
	case "all":
		audience = services.AllUsers()
	case "role":
		audience = services.RoleMembers(payload.RoleCode)
	}

	dto, err := h.service.CreateAndDispatch(requestContext(c), services.CreateNotificationInput{
		UserID:            payload.UserID,
		Title:             payload.Title,
		Message:           payload.Message,
		Category:          models.NotificationCategory(payload.Category),
		Priority:          models.NotificationPriority(payload.Priority),
		RelatedEntityType: payload.RelatedEntityType,
		RelatedEntityID:   payload.RelatedEntityID,
		Metadata:          payload.Metadata,
		ExpiryDate:        payload.ExpiryDate,
	}, audience)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// MarkRead advances a notification to Read for the calling owner.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.mutate(c, h.service.MarkAsRead)
}

// Archive advances a notification to Archived for the calling owner.
func (h *NotificationHandler) Archive(c *gin.Context) {
	h.mutate(c, h.service.Archive)
}

func (h *NotificationHandler) mutate(c *gin.Context, op func(ctx context.Context, id, callerID int64) (*services.NotificationDTO, bool, error)) {
	userID := middleware.UserID(c)
	if userID == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, errors.ErrNotFound)
		return
	}

	dto, changed, err := op(requestContext(c), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"notification": dto, "changed": changed})
}

// MarkAllRead marks all of the caller's unread notifications as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	updated, err := h.service.MarkAllAsRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification owned by the caller.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, errors.ErrNotFound)
		return
	}

	if err := h.service.Delete(requestContext(c), id, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Stats returns per-status notification counts for the caller.
func (h *NotificationHandler) Stats(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == 0 {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	stats, err := h.service.Stats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// Stream upgrades the connection to a WebSocket for notification delivery.
// Identity is established exactly once here; a rejected credential never
// registers a connection.
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.gate == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	claims, err := h.gate.Authenticate(c.Request)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Serve(claims.UserID, c.Writer, c.Request)
}
