package domain

import "time"

// ComplianceLog Model. Append-only record of every compliance decision, written
// before the decision is returned to the caller.
type ComplianceLog struct {
	ID        uint              `gorm:"primaryKey" json:"-"`
	EventType string            `gorm:"index;size:64;not null" json:"event_type"`
	UserID    string            `gorm:"index;size:64" json:"user_id"`
	Details   map[string]any    `gorm:"serializer:json" json:"details"`
	IPAddress string            `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent string            `gorm:"size:256" json:"user_agent,omitempty"`
	Timestamp time.Time         `gorm:"index" json:"timestamp"`
}

// SecurityLog Model. Security events with severity, queried by the admin
// reporting surface.
type SecurityLog struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	EventType string         `gorm:"index;size:64;not null" json:"event_type"`
	Severity  string         `gorm:"size:16;not null" json:"severity"` // low, medium, high, critical
	UserID    string         `gorm:"index;size:64" json:"user_id"`
	Details   map[string]any `gorm:"serializer:json" json:"details"`
	IPAddress string         `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent string         `gorm:"size:256" json:"user_agent,omitempty"`
	DeviceID  string         `gorm:"size:64" json:"device_id,omitempty"`
	Timestamp time.Time      `gorm:"index" json:"timestamp"`
}

// Notification Model. Structured event handed to the delivery collaborator.
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	UserID    string         `gorm:"index;size:64;not null" json:"user_id"`
	Kind      string         `gorm:"size:32;not null" json:"kind"` // fraud_alert, transaction_completed, ...
	Title     string         `gorm:"size:128" json:"title"`
	Message   string         `gorm:"size:512" json:"message"`
	Priority  string         `gorm:"size:16;not null" json:"priority"`
	Channels  []string       `gorm:"serializer:json" json:"channels"`
	Data      map[string]any `gorm:"serializer:json" json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}
