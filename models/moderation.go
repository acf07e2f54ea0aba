package models

import (
	"time"

	"github.com/chatwarden/warden/automod/actor"
)

type ActionType string

const (
	ActionBan      ActionType = "ban"
	ActionWarn     ActionType = "warn"
	ActionTrust    ActionType = "trust"
	ActionUntrust  ActionType = "untrust"
	ActionUnban    ActionType = "unban"
	ActionRestrict ActionType = "restrict"
)

// Sentinel chat id meaning "every managed chat".
const GlobalChatID int64 = 0

// Append-only record of a moderation action against a user. Current ban/warn/trust status is derived from the latest non-expired rows; there is no separate mutable flag.
type UserActionRecord struct {
	ID         uint64     `gorm:"primaryKey"`
	UserID     int64      `gorm:"not null;index:idx_user_action_lookup,priority:1"`
	ActionType ActionType `gorm:"not null;index:idx_user_action_lookup,priority:2"`
	// GlobalChatID for actions applying to every managed chat
	ChatID    int64 `gorm:"not null;default:0"`
	MessageID *int64
	IssuedBy  actor.Actor `gorm:"embedded;embeddedPrefix:issued_by_"`
	IssuedAt  time.Time   `gorm:"not null;index"`
	ExpiresAt *time.Time
	Reason    string `gorm:"not null"`
}

// Whether the record is still in force at time t.
func (r *UserActionRecord) ActiveAt(t time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(t)
}

const (
	ReportPending  = "pending"
	ReportResolved = "resolved"
)

// Report filed for a human reviewer, or for the record after an automated action. Carries everything needed to reproduce the decision.
type DetectionReport struct {
	ID            uint64 `gorm:"primaryKey"`
	ChatID        int64  `gorm:"not null;index"`
	MessageID     int64  `gorm:"not null"`
	UserID        int64  `gorm:"not null;index"`
	Action        string `gorm:"not null"`
	Reason        string `gorm:"not null"`
	Details       string
	NetConfidence int
	MaxConfidence int
	Status        string      `gorm:"not null;default:pending;index"`
	ReportedBy    actor.Actor `gorm:"embedded;embeddedPrefix:reported_by_"`
	CreatedAt     time.Time   `gorm:"not null"`
}

type AuditEntry struct {
	ID           uint64      `gorm:"primaryKey"`
	EventType    string      `gorm:"not null;index"`
	Actor        actor.Actor `gorm:"embedded;embeddedPrefix:actor_"`
	TargetUserID int64       `gorm:"index"`
	ChatID       int64
	Details      string
	CreatedAt    time.Time `gorm:"not null"`
}

// Labelled message text used to train the detection engine.
type TrainingSample struct {
	ID     uint64 `gorm:"primaryKey"`
	Text   string `gorm:"not null"`
	IsSpam bool   `gorm:"not null;index"`
	// 64-bit SimHash fingerprint stored with the same bits in a signed column
	SimHash   int64 `gorm:"not null"`
	ChatID    int64
	MessageID int64
	Source    actor.Actor `gorm:"embedded;embeddedPrefix:source_"`
	CreatedAt time.Time   `gorm:"not null;index"`
}

func (s *TrainingSample) Fingerprint() uint64 {
	return uint64(s.SimHash)
}
