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

type RestrictRequest struct {
	UserID int64
	// models.GlobalChatID restricts in every managed chat
	ChatID int64
	Actor  actor.Actor
	Reason string
	// zero means indefinitely
	Until time.Time
}

type ChatRestricter interface {
	RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error
}

type AdminChecker interface {
	ChatsWhereAdmin(ctx context.Context, userID int64) ([]int64, error)
}

type HealthChecker interface {
	CanEnforce(chatID int64) bool
}

type RestrictHandler struct {
	Store    ActionStore
	Enforcer Enforcer
	Platform ChatRestricter
	Admins   AdminChecker
	Health   HealthChecker
	Logger   *slog.Logger
}

func NewRestrictHandler(store ActionStore, enforcer Enforcer, platform ChatRestricter, admins AdminChecker, health HealthChecker, logger *slog.Logger) *RestrictHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RestrictHandler{
		Store:    store,
		Enforcer: enforcer,
		Platform: platform,
		Admins:   admins,
		Health:   health,
		Logger:   logger.With("handler", "restrict"),
	}
}

func (h *RestrictHandler) Restrict(ctx context.Context, req RestrictRequest) Outcome {
	if !req.Actor.Valid() {
		return failed("invalid actor")
	}
	var out Outcome
	if req.ChatID == models.GlobalChatID {
		res, err := h.Enforcer.ApplyAcrossManagedChats(ctx, req.UserID, enforcement.Action{Kind: enforcement.KindRestrict, Until: req.Until, Reason: req.Reason})
		out = enforcementOutcome(res, err)
	} else {
		out = h.restrictInChat(ctx, req)
	}
	if !out.Success {
		return out
	}

	rec := &models.UserActionRecord{
		UserID:     req.UserID,
		ActionType: models.ActionRestrict,
		ChatID:     req.ChatID,
		IssuedBy:   req.Actor,
		IssuedAt:   time.Now(),
		Reason:     req.Reason,
	}
	if !req.Until.IsZero() {
		until := req.Until
		rec.ExpiresAt = &until
	}
	if err := h.Store.AppendAction(ctx, rec); err != nil {
		h.Logger.Error("restriction applied but not recorded", "user", req.UserID, "chat", req.ChatID, "err", err)
		out.Success = false
		out.Error = fmt.Sprintf("restriction applied but not recorded: %v", err)
	}
	return out
}

// An admin of any managed chat is protected here too, matching ApplyAcrossManagedChats.
func (h *RestrictHandler) restrictInChat(ctx context.Context, req RestrictRequest) Outcome {
	adminIn, err := h.Admins.ChatsWhereAdmin(ctx, req.UserID)
	if err != nil {
		return failed(fmt.Sprintf("checking admin status: %v", err))
	}
	if len(adminIn) > 0 {
		return failed(fmt.Sprintf("user is an admin in %d managed chat(s)", len(adminIn)))
	}
	if !h.Health.CanEnforce(req.ChatID) {
		return failed("bot lacks restrict permission in this chat")
	}
	if err := h.Platform.RestrictChatMember(ctx, req.ChatID, req.UserID, req.Until); err != nil {
		return Outcome{ChatsFailed: 1, Error: err.Error()}
	}
	return Outcome{Success: true, ChatsAffected: 1}
}
