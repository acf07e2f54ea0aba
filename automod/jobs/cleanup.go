package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/models"
)

const CleanupJobName = "cross_chat_cleanup"

type CleanupPayload struct {
	UserID int64 `json:"userId"`
}

type MessageStore interface {
	RecentMessagesByUser(ctx context.Context, userID int64, since time.Time, limit int) ([]models.Message, error)
	MarkMessageRemoved(ctx context.Context, chatID, messageID int64) error
}

type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Deletes a banned user's recent messages in every chat they were observed in.
type Cleanup struct {
	Messages MessageStore
	Platform MessageDeleter
	Lookback time.Duration
	Limit    int
	Logger   *slog.Logger
}

func NewCleanup(messages MessageStore, platform MessageDeleter, logger *slog.Logger) *Cleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{
		Messages: messages,
		Platform: platform,
		Lookback: 24 * time.Hour,
		Limit:    500,
		Logger:   logger.With("component", "cleanup"),
	}
}

// Job handler. Individual deletion failures are logged and skipped; the message may already be gone.
func (c *Cleanup) Run(ctx context.Context, payload []byte) error {
	var p CleanupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding cleanup payload: %w", err)
	}
	if p.UserID == 0 {
		return fmt.Errorf("cleanup payload missing user id")
	}
	logger := c.Logger.With("user", p.UserID)

	msgs, err := c.Messages.RecentMessagesByUser(ctx, p.UserID, time.Now().Add(-c.Lookback), c.Limit)
	if err != nil {
		return fmt.Errorf("listing messages for cleanup: %w", err)
	}

	deleted := 0
	for _, m := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.Platform.DeleteMessage(ctx, m.ChatID, m.MessageID); err != nil {
			logger.Warn("cleanup delete failed", "chat", m.ChatID, "message", m.MessageID, "err", err)
			continue
		}
		if err := c.Messages.MarkMessageRemoved(ctx, m.ChatID, m.MessageID); err != nil {
			logger.Warn("failed to mark message removed", "chat", m.ChatID, "message", m.MessageID, "err", err)
		}
		deleted++
	}
	logger.Info("cross-chat cleanup done", "found", len(msgs), "deleted", deleted)
	return nil
}
