package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/models"
)

type WarnRequest struct {
	UserID    int64
	ChatID    int64
	MessageID *int64
	Actor     actor.Actor
	Reason    string
	// zero means warnings never expire
	Expiry time.Duration
}

type WarnOutcome struct {
	Outcome
	// active warnings including this one
	WarningCount int
}

type WarnHandler struct {
	Store  ActionStore
	Logger *slog.Logger
}

func NewWarnHandler(store ActionStore, logger *slog.Logger) *WarnHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarnHandler{Store: store, Logger: logger.With("handler", "warn")}
}

func (h *WarnHandler) Warn(ctx context.Context, req WarnRequest) WarnOutcome {
	if !req.Actor.Valid() {
		return WarnOutcome{Outcome: failed("invalid actor")}
	}
	now := time.Now()
	rec := &models.UserActionRecord{
		UserID:     req.UserID,
		ActionType: models.ActionWarn,
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		IssuedBy:   req.Actor,
		IssuedAt:   now,
		Reason:     req.Reason,
	}
	var since time.Time
	if req.Expiry > 0 {
		exp := now.Add(req.Expiry)
		rec.ExpiresAt = &exp
		since = now.Add(-req.Expiry)
	}
	if err := h.Store.AppendAction(ctx, rec); err != nil {
		return WarnOutcome{Outcome: failed(fmt.Sprintf("recording warning: %v", err))}
	}

	count, err := h.Store.ActiveWarningCount(ctx, req.UserID, since)
	if err != nil {
		// the warning itself is recorded; a failed count must not trigger (or suppress) an auto-ban on a guess
		h.Logger.Error("counting warnings", "user", req.UserID, "err", err)
		return WarnOutcome{Outcome: Outcome{Success: true, ChatsAffected: 1, Error: fmt.Sprintf("counting warnings: %v", err)}}
	}
	return WarnOutcome{
		Outcome:      Outcome{Success: true, ChatsAffected: 1},
		WarningCount: count,
	}
}
