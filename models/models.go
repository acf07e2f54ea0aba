package models

import (
	"time"
)

type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	// bot is admin and holds ban/restrict and delete rights
	HealthHealthy HealthStatus = "healthy"
	// bot is admin but lacks some non-essential right (eg, delete)
	HealthWarning HealthStatus = "warning"
	// bot is not admin, was removed, or the chat is inaccessible
	HealthError HealthStatus = "error"
)

// A chat the bot administers. Created on first interaction, marked inactive when the bot is removed.
type ManagedChat struct {
	ChatID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Title        string
	ChatType     string
	IsActive     bool         `gorm:"not null;index"`
	HealthStatus HealthStatus `gorm:"not null;default:unknown"`
	AddedAt      time.Time    `gorm:"not null"`
	UpdatedAt    time.Time
}

type ChatAdmin struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64 `gorm:"primaryKey;autoIncrement:false;index"`
	IsCreator bool
	UpdatedAt time.Time
}

// Observed chat message, kept for backfill and cross-chat cleanup.
type Message struct {
	ChatID    int64  `gorm:"primaryKey;autoIncrement:false"`
	MessageID int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64  `gorm:"not null;index:idx_message_user_sent,priority:1"`
	UserName  string
	Text      string
	SentAt    time.Time `gorm:"not null;index:idx_message_user_sent,priority:2"`
	RemovedAt *time.Time
}

// Per-chat moderation configuration, as a JSON document. Chat id 0 holds the global default.
type ChatConfig struct {
	ChatID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Data      string `gorm:"not null"`
	UpdatedAt time.Time
}
