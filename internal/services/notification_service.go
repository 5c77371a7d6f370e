package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/maelcorre/fleetdesk/internal/models"
	"github.com/maelcorre/fleetdesk/internal/realtime"
	apperrors "github.com/maelcorre/fleetdesk/pkg/errors"
	"github.com/maelcorre/fleetdesk/pkg/logger"
	"github.com/maelcorre/fleetdesk/pkg/metrics"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID                int64          `json:"id"`
	UserID            int64          `json:"user_id"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	SentDate          time.Time      `json:"sent_date"`
	Category          string         `json:"category"`
	Priority          string         `json:"priority"`
	Status            string         `json:"status"`
	RelatedEntityType *string        `json:"related_entity_type,omitempty"`
	RelatedEntityID   *int64         `json:"related_entity_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ExpiryDate        *time.Time     `json:"expiry_date,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID            int64
	Title             string
	Message           string
	Category          models.NotificationCategory
	Priority          models.NotificationPriority
	RelatedEntityType string
	RelatedEntityID   *int64
	Metadata          map[string]any
	ExpiryDate        *time.Time
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     int64
	Limit      int
	Offset     int
	UnreadOnly bool
}

// NotificationStats summarises a user's notifications by status.
type NotificationStats struct {
	Total    int64 `json:"total"`
	Unread   int64 `json:"unread"`
	Read     int64 `json:"read"`
	Archived int64 `json:"archived"`
}

// NotificationService is the dispatch core: it persists notifications durably
// and fans them out to the live connections of the target audience. Persistence
// always happens before any push attempt, and no lock ever spans both.
type NotificationService struct {
	db       *gorm.DB
	registry *realtime.Registry
	pusher   realtime.Pusher
	log      *zap.Logger
}

// NewNotificationService constructs a NotificationService. The pusher may be
// nil, in which case dispatches persist without fan-out (useful for batch
// producers and tests that only exercise the store path).
func NewNotificationService(db *gorm.DB, registry *realtime.Registry, pusher realtime.Pusher) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if registry == nil {
		return nil, errors.New("notification service: registry is required")
	}
	return &NotificationService{
		db:       db,
		registry: registry,
		pusher:   pusher,
		log:      logger.WithModule("notifications"),
	}, nil
}

// CreateAndDispatch persists a notification with status Unread and pushes it to
// every live connection of the audience.
//
// The store write is the only step that can fail the call: if it errors, no
// push is ever attempted. Once the row is durable, every push failure is
// swallowed — a vanished connection must not roll back the commit, and a user
// with zero live connections still finds the record via store reads.
func (s *NotificationService) CreateAndDispatch(ctx context.Context, input CreateNotificationInput, audience Audience) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	if input.UserID <= 0 {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	if !input.Category.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown category %q", input.Category))
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown priority %q", priority))
	}

	notification := models.Notification{
		UserID:          input.UserID,
		Title:           title,
		Message:         strings.TrimSpace(input.Message),
		SentDate:        time.Now().UTC(),
		Category:        input.Category,
		Priority:        priority,
		Status:          models.StatusUnread,
		RelatedEntityID: input.RelatedEntityID,
		ExpiryDate:      input.ExpiryDate,
	}
	if related := strings.TrimSpace(input.RelatedEntityType); related != "" {
		notification.RelatedEntityType = &related
	}
	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, apperrors.NewBadRequest("metadata is not serialisable")
		}
		notification.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	s.dispatch(ctx, &notification, audience)

	dto := mapNotification(notification)
	return &dto, nil
}

// dispatch resolves the audience into concrete connections and pushes the
// payload to each. Nothing in here may fail the caller: the row is already
// durable and poll-based reads guarantee eventual delivery.
func (s *NotificationService) dispatch(ctx context.Context, notification *models.Notification, audience Audience) {
	if s.pusher == nil {
		return
	}

	kind := audience.Kind
	if kind == "" {
		kind = AudienceUser
		audience = SingleUser(notification.UserID)
	}

	var connections []string
	switch kind {
	case AudienceUser:
		connections = s.registry.ConnectionsFor(audience.UserID)
	case AudienceAll:
		connections = s.registry.AllConnections()
	case AudienceRole:
		members, err := s.resolveRoleMembers(ctx, audience.RoleCode)
		if err != nil {
			s.log.Warn("role audience resolution failed",
				zap.String("role", audience.RoleCode),
				zap.Error(err),
			)
			return
		}
		connections = s.registry.ConnectionsForUsers(members)
	default:
		s.log.Warn("unknown audience kind", zap.String("kind", string(kind)))
		return
	}

	metrics.NotificationsDispatched.WithLabelValues(string(kind)).Inc()

	if len(connections) == 0 {
		return
	}

	event := realtime.Event{
		Event: realtime.EventReceiveNotification,
		Data:  toEventPayload(notification),
	}

	for _, connectionID := range connections {
		if err := s.pusher.Push(connectionID, event); err != nil {
			metrics.PushFailures.Inc()
			s.log.Debug("push failed",
				zap.String("connection_id", connectionID),
				zap.Int64("notification_id", notification.ID),
				zap.Error(err),
			)
		}
	}
}

// resolveRoleMembers maps a role code to the ids of users holding it.
func (s *NotificationService) resolveRoleMembers(ctx context.Context, code string) ([]int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("role code is required")
	}

	var ids []int64
	err := s.db.WithContext(ctx).
		Table("users").
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.code = ? AND users.is_active = ?", code, true).
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve role members: %w", err)
	}
	return ids, nil
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	if input.UserID <= 0 {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", input.UserID)
	if input.UnreadOnly {
		query = query.Where("status = ?", models.StatusUnread)
	}

	var rows []models.Notification
	if err := query.
		Order("sent_date DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// MarkAsRead advances a notification to Read. A repeat call is an idempotent
// success, and acting on an Archived notification is a success that changes
// nothing: the returned flag reports whether state actually moved.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, callerID int64) (*NotificationDTO, bool, error) {
	return s.transition(ctx, id, callerID, models.StatusRead)
}

// Archive advances a notification to Archived, reachable from both Unread and
// Read. Archived is terminal.
func (s *NotificationService) Archive(ctx context.Context, id, callerID int64) (*NotificationDTO, bool, error) {
	return s.transition(ctx, id, callerID, models.StatusArchived)
}

func (s *NotificationService) transition(ctx context.Context, id, callerID int64, target models.NotificationStatus) (*NotificationDTO, bool, error) {
	ctx = ensureContext(ctx)

	notification, err := s.loadOwned(ctx, id, callerID)
	if err != nil {
		return nil, false, err
	}

	if !statusTransitionAllowed(notification.Status, target) {
		// Terminal or repeated state: report success without mutating.
		dto := mapNotification(*notification)
		return &dto, false, nil
	}

	// The write is guarded by the status observed above so a transition that
	// commits between the load and the update cannot be overwritten. Losing
	// that race is the same no-op success as loading the terminal state.
	result := s.db.WithContext(ctx).
		Model(notification).
		Where("status = ?", notification.Status).
		Update("status", target)
	if result.Error != nil {
		return nil, false, fmt.Errorf("notification service: update status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		if err := s.db.WithContext(ctx).First(notification, notification.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, apperrors.ErrNotFound
			}
			return nil, false, fmt.Errorf("notification service: reload notification: %w", err)
		}
		dto := mapNotification(*notification)
		return &dto, false, nil
	}

	notification.Status = target
	dto := mapNotification(*notification)
	return &dto, true, nil
}

// statusTransitionAllowed encodes the forward-only lifecycle:
// Unread -> Read, Unread -> Archived, Read -> Archived.
func statusTransitionAllowed(from, to models.NotificationStatus) bool {
	switch from {
	case models.StatusUnread:
		return to == models.StatusRead || to == models.StatusArchived
	case models.StatusRead:
		return to == models.StatusArchived
	default:
		return false
	}
}

// MarkAllAsRead advances every Unread notification of the caller to Read and
// reports how many rows moved. Archived rows are untouched.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, callerID int64) (int64, error) {
	ctx = ensureContext(ctx)
	if callerID <= 0 {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND status = ?", callerID, models.StatusUnread).
		Update("status", models.StatusRead)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the caller. Deletion is unconditional
// and independent of status; Archived rows delete like any other.
func (s *NotificationService) Delete(ctx context.Context, id, callerID int64) error {
	ctx = ensureContext(ctx)

	notification, err := s.loadOwned(ctx, id, callerID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(notification).Error; err != nil {
		return fmt.Errorf("notification service: delete notification: %w", err)
	}
	return nil
}

// Stats returns per-status counts for the caller's notifications.
func (s *NotificationService) Stats(ctx context.Context, callerID int64) (*NotificationStats, error) {
	ctx = ensureContext(ctx)
	if callerID <= 0 {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var rows []struct {
		Status models.NotificationStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", callerID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: stats: %w", err)
	}

	stats := NotificationStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.StatusUnread:
			stats.Unread = row.Count
		case models.StatusRead:
			stats.Read = row.Count
		case models.StatusArchived:
			stats.Archived = row.Count
		}
	}
	return &stats, nil
}

// CleanupExpired deletes notifications whose expiry date has passed. Returns
// the number of removed rows.
func (s *NotificationService) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expiry_date IS NOT NULL AND expiry_date < ?", now).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: cleanup expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// loadOwned fetches a notification and enforces ownership. A missing row is
// NotFound; a row owned by someone else is Forbidden, never leaked as NotFound.
func (s *NotificationService) loadOwned(ctx context.Context, id, callerID int64) (*models.Notification, error) {
	if id <= 0 || callerID <= 0 {
		return nil, apperrors.ErrNotFound
	}

	var notification models.Notification
	if err := s.db.WithContext(ctx).First(&notification, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	if notification.UserID != callerID {
		return nil, apperrors.ErrForbidden
	}
	return &notification, nil
}

func toEventPayload(n *models.Notification) realtime.NotificationPayload {
	return realtime.NotificationPayload{
		NotificationID:    n.ID,
		UserID:            n.UserID,
		Title:             n.Title,
		Message:           n.Message,
		SentDate:          n.SentDate,
		NotificationType:  string(n.Category),
		Priority:          string(n.Priority),
		Status:            string(n.Status),
		RelatedEntityType: n.RelatedEntityType,
		RelatedEntityID:   n.RelatedEntityID,
		ExpiryDate:        n.ExpiryDate,
	}
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:                row.ID,
		UserID:            row.UserID,
		Title:             row.Title,
		Message:           row.Message,
		SentDate:          row.SentDate,
		Category:          string(row.Category),
		Priority:          string(row.Priority),
		Status:            string(row.Status),
		RelatedEntityType: row.RelatedEntityType,
		RelatedEntityID:   row.RelatedEntityID,
		Metadata:          decodeJSON(row.Metadata),
		ExpiryDate:        row.ExpiryDate,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
