package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/store"
	"github.com/chatwarden/warden/models"
)

type MessageStore interface {
	GetMessage(ctx context.Context, chatID, messageID int64) (*models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	MarkMessageRemoved(ctx context.Context, chatID, messageID int64) error
}

type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

type MessageHandler struct {
	Store    MessageStore
	Platform MessageDeleter
}

func NewMessageHandler(st MessageStore, platform MessageDeleter) *MessageHandler {
	return &MessageHandler{Store: st, Platform: platform}
}

// Makes sure the message is stored, backfilling it from the event if needed. Returns the stored row.
func (h *MessageHandler) Ensure(ctx context.Context, msg event.Message) (*models.Message, error) {
	row, err := h.Store.GetMessage(ctx, msg.ChatID, msg.MessageID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	row = &models.Message{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Text:      msg.Text,
		SentAt:    msg.SentAt,
	}
	if err := h.Store.SaveMessage(ctx, row); err != nil {
		return nil, fmt.Errorf("backfilling message: %w", err)
	}
	return row, nil
}

func (h *MessageHandler) Delete(ctx context.Context, chatID, messageID int64) Outcome {
	if err := h.Platform.DeleteMessage(ctx, chatID, messageID); err != nil {
		return Outcome{ChatsFailed: 1, Error: err.Error()}
	}
	if err := h.Store.MarkMessageRemoved(ctx, chatID, messageID); err != nil {
		// deleted on the platform; the row just isn't flagged
		return Outcome{Success: true, ChatsAffected: 1, Error: fmt.Sprintf("marking message removed: %v", err)}
	}
	return Outcome{Success: true, ChatsAffected: 1}
}
