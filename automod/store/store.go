// Persistence for moderation state, on top of gorm (sqlite or postgres).
//
// User status (banned, trusted, warning count) is never stored as a mutable flag: it is derived from the append-only models.UserActionRecord rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatwarden/warden/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.ManagedChat{},
		&models.ChatAdmin{},
		&models.Message{},
		&models.ChatConfig{},
		&models.UserActionRecord{},
		&models.DetectionReport{},
		&models.AuditEntry{},
		&models.TrainingSample{},
	)
}

func (s *Store) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Creates the chat if it is new, otherwise refreshes title/type and marks it active again.
func (s *Store) UpsertChat(ctx context.Context, chatID int64, title, chatType string) error {
	now := time.Now()
	chat := models.ManagedChat{
		ChatID:       chatID,
		Title:        title,
		ChatType:     chatType,
		IsActive:     true,
		HealthStatus: models.HealthUnknown,
		AddedAt:      now,
		UpdatedAt:    now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "chat_type", "is_active", "updated_at"}),
	}).Create(&chat).Error
}

func (s *Store) MarkChatInactive(ctx context.Context, chatID int64) error {
	return s.db.WithContext(ctx).Model(&models.ManagedChat{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{"is_active": false, "health_status": models.HealthError, "updated_at": time.Now()}).Error
}

func (s *Store) SetChatHealth(ctx context.Context, chatID int64, status models.HealthStatus) error {
	return s.db.WithContext(ctx).Model(&models.ManagedChat{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{"health_status": status, "updated_at": time.Now()}).Error
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (*models.ManagedChat, error) {
	var chat models.ManagedChat
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error; err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.ManagedChat, error) {
	var chats []models.ManagedChat
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("chat_id").Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *Store) ListChats(ctx context.Context) ([]models.ManagedChat, error) {
	var chats []models.ManagedChat
	if err := s.db.WithContext(ctx).Order("chat_id").Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// Replaces the admin roster of a chat.
func (s *Store) SetChatAdmins(ctx context.Context, chatID int64, admins []models.ChatAdmin) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatAdmin{}).Error; err != nil {
			return err
		}
		if len(admins) == 0 {
			return nil
		}
		rows := make([]models.ChatAdmin, len(admins))
		for i, a := range admins {
			a.ChatID = chatID
			a.UpdatedAt = now
			rows[i] = a
		}
		return tx.Create(&rows).Error
	})
}

func (s *Store) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatAdmin{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}

// Active managed chats in which the user is an admin.
func (s *Store) ChatsWhereAdmin(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.ChatAdmin{}).
		Joins("JOIN managed_chats ON managed_chats.chat_id = chat_admins.chat_id").
		Where("chat_admins.user_id = ? AND managed_chats.is_active = ?", userID, true).
		Order("chat_admins.chat_id").
		Pluck("chat_admins.chat_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) AppendAction(ctx context.Context, rec *models.UserActionRecord) error {
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("appending %s action for user %d: %w", rec.ActionType, rec.UserID, err)
	}
	return nil
}

// Latest record among the given action types, or nil if there is none.
func (s *Store) latestAction(ctx context.Context, userID int64, types ...models.ActionType) (*models.UserActionRecord, error) {
	var rec models.UserActionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action_type IN ?", userID, types).
		Order("issued_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) IsTrusted(ctx context.Context, userID int64) (bool, error) {
	rec, err := s.latestAction(ctx, userID, models.ActionTrust, models.ActionUntrust)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.ActionType == models.ActionTrust && rec.ActiveAt(time.Now()), nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	rec, err := s.latestAction(ctx, userID, models.ActionBan, models.ActionUnban)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.ActionType == models.ActionBan && rec.ActiveAt(time.Now()), nil
}

// Number of warnings in force: issued after `since` and after the latest unban, and not expired.
func (s *Store) ActiveWarningCount(ctx context.Context, userID int64, since time.Time) (int, error) {
	unban, err := s.latestAction(ctx, userID, models.ActionUnban)
	if err != nil {
		return 0, err
	}
	if unban != nil && unban.IssuedAt.After(since) {
		since = unban.IssuedAt
	}
	now := time.Now()
	var count int64
	err = s.db.WithContext(ctx).Model(&models.UserActionRecord{}).
		Where("user_id = ? AND action_type = ? AND issued_at >= ?", userID, models.ActionWarn, since).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&count).Error
	return int(count), err
}

func (s *Store) ListActions(ctx context.Context, userID int64, limit int) ([]models.UserActionRecord, error) {
	var recs []models.UserActionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(msg).Error
}

func (s *Store) GetMessage(ctx context.Context, chatID, messageID int64) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Where("chat_id = ? AND message_id = ?", chatID, messageID).First(&msg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

func (s *Store) MarkMessageRemoved(ctx context.Context, chatID, messageID int64) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Update("removed_at", time.Now()).Error
}

// Messages by the user sent at or after `since`, not yet removed, newest first.
func (s *Store) RecentMessagesByUser(ctx context.Context, userID int64, since time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND sent_at >= ? AND removed_at IS NULL", userID, since).
		Order("sent_at DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *Store) CreateReport(ctx context.Context, r *models.DetectionReport) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.ReportPending
	}
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) ListReports(ctx context.Context, status string, limit int) ([]models.DetectionReport, error) {
	var out []models.DetectionReport
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) ResolveReport(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Model(&models.DetectionReport{}).Where("id = ?", id).Update("status", models.ReportResolved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddTrainingSample(ctx context.Context, sample *models.TrainingSample) error {
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(sample).Error
}

func (s *Store) RecentTrainingSamples(ctx context.Context, isSpam bool, limit int) ([]models.TrainingSample, error) {
	var out []models.TrainingSample
	err := s.db.WithContext(ctx).
		Where("is_spam = ?", isSpam).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Returns nil (and no error) if the chat has no stored configuration.
func (s *Store) GetChatConfig(ctx context.Context, chatID int64) (*models.ChatConfig, error) {
	var cfg models.ChatConfig
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) SaveChatConfig(ctx context.Context, cfg *models.ChatConfig) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(cfg).Error
}
