package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/models"
)

type TrustHandler struct {
	Store ActionStore
}

func NewTrustHandler(store ActionStore) *TrustHandler {
	return &TrustHandler{Store: store}
}

func (h *TrustHandler) record(ctx context.Context, userID int64, at models.ActionType, who actor.Actor, reason string, expiresAt *time.Time) Outcome {
	if !who.Valid() {
		return failed("invalid actor")
	}
	err := h.Store.AppendAction(ctx, &models.UserActionRecord{
		UserID:     userID,
		ActionType: at,
		ChatID:     models.GlobalChatID,
		IssuedBy:   who,
		IssuedAt:   time.Now(),
		ExpiresAt:  expiresAt,
		Reason:     reason,
	})
	if err != nil {
		return failed(fmt.Sprintf("recording %s: %v", at, err))
	}
	return Outcome{Success: true}
}

// Marks the user trusted, optionally until expiresAt.
func (h *TrustHandler) Trust(ctx context.Context, userID int64, who actor.Actor, reason string, expiresAt *time.Time) Outcome {
	return h.record(ctx, userID, models.ActionTrust, who, reason, expiresAt)
}

func (h *TrustHandler) Untrust(ctx context.Context, userID int64, who actor.Actor, reason string) Outcome {
	return h.record(ctx, userID, models.ActionUntrust, who, reason, nil)
}
