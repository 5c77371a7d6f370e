package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationCategory classifies the producing domain event.
type NotificationCategory string

const (
	CategoryMission     NotificationCategory = "Mission"
	CategoryTask        NotificationCategory = "Task"
	CategoryReservation NotificationCategory = "Reservation"
	CategoryIncident    NotificationCategory = "Incident"
	CategorySystem      NotificationCategory = "System"
	CategoryAlert       NotificationCategory = "Alert"
)

// Valid reports whether the category is one of the known values.
func (c NotificationCategory) Valid() bool {
	switch c {
	case CategoryMission, CategoryTask, CategoryReservation, CategoryIncident, CategorySystem, CategoryAlert:
		return true
	}
	return false
}

// NotificationPriority orders notifications by urgency.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "Low"
	PriorityNormal NotificationPriority = "Normal"
	PriorityHigh   NotificationPriority = "High"
	PriorityUrgent NotificationPriority = "Urgent"
)

// Valid reports whether the priority is one of the known values.
func (p NotificationPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// NotificationStatus tracks the read lifecycle. Transitions only move forward:
// Unread -> Read -> Archived, or Unread -> Archived. Archived is terminal.
type NotificationStatus string

const (
	StatusUnread   NotificationStatus = "Unread"
	StatusRead     NotificationStatus = "Read"
	StatusArchived NotificationStatus = "Archived"
)

// Notification represents a durable in-app notification owned by one user.
// The related entity reference is deliberately loose: it points at another
// domain row (mission, reservation, ...) without a foreign key, so the
// notification outlives the referenced entity.
type Notification struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID   int64     `gorm:"not null;index" json:"user_id"`
	Title    string    `gorm:"type:varchar(255);not null" json:"title"`
	Message  string    `gorm:"type:text" json:"message"`
	SentDate time.Time `gorm:"not null" json:"sent_date"`

	Category NotificationCategory `gorm:"type:varchar(32);not null" json:"category"`
	Priority NotificationPriority `gorm:"type:varchar(16);not null;default:'Normal'" json:"priority"`
	Status   NotificationStatus   `gorm:"type:varchar(16);not null;default:'Unread';index" json:"status"`

	RelatedEntityType *string `gorm:"type:varchar(64)" json:"related_entity_type,omitempty"`
	RelatedEntityID   *int64  `json:"related_entity_id,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	ExpiryDate *time.Time `gorm:"index" json:"expiry_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
