package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/models"
)

type BanRequest struct {
	UserID    int64
	Actor     actor.Actor
	Reason    string
	ChatID    int64
	MessageID *int64
}

// Bans and unbans across every managed chat, and records the action.
type BanHandler struct {
	Store    ActionStore
	Enforcer Enforcer
	Logger   *slog.Logger
}

func NewBanHandler(store ActionStore, enforcer Enforcer, logger *slog.Logger) *BanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BanHandler{Store: store, Enforcer: enforcer, Logger: logger.With("handler", "ban")}
}

func (h *BanHandler) apply(ctx context.Context, req BanRequest, kind enforcement.Kind, recType models.ActionType, until time.Time) Outcome {
	if !req.Actor.Valid() {
		return failed("invalid actor")
	}
	res, err := h.Enforcer.ApplyAcrossManagedChats(ctx, req.UserID, enforcement.Action{Kind: kind, Until: until, Reason: req.Reason})
	out := enforcementOutcome(res, err)
	if !out.Success {
		h.Logger.Warn("enforcement did not succeed", "user", req.UserID, "kind", kind, "err", out.Error)
		return out
	}

	rec := &models.UserActionRecord{
		UserID:     req.UserID,
		ActionType: recType,
		ChatID:     models.GlobalChatID,
		MessageID:  req.MessageID,
		IssuedBy:   req.Actor,
		IssuedAt:   time.Now(),
		Reason:     req.Reason,
	}
	if !until.IsZero() {
		rec.ExpiresAt = &until
	}
	if err := h.Store.AppendAction(ctx, rec); err != nil {
		h.Logger.Error("action applied but not recorded", "user", req.UserID, "kind", kind, "err", err)
		out.Success = false
		out.Error = fmt.Sprintf("%s applied in %d chats but not recorded: %v", kind, out.ChatsAffected, err)
	}
	return out
}

func (h *BanHandler) Ban(ctx context.Context, req BanRequest) Outcome {
	return h.apply(ctx, req, enforcement.KindBan, models.ActionBan, time.Time{})
}

// Bans until the given time. The platform lifts the ban itself; the record expires at the same time.
func (h *BanHandler) TempBan(ctx context.Context, req BanRequest, until time.Time) Outcome {
	if !until.After(time.Now()) {
		return failed("temporary ban must expire in the future")
	}
	return h.apply(ctx, req, enforcement.KindTempBan, models.ActionBan, until)
}

func (h *BanHandler) Unban(ctx context.Context, req BanRequest) Outcome {
	return h.apply(ctx, req, enforcement.KindUnban, models.ActionUnban, time.Time{})
}
