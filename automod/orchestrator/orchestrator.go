// Moderation verbs. Each verb sequences atomic handler calls and applies the cross-cutting rules: platform system accounts are never touched, a ban always revokes trust, and enough warnings trigger an automatic ban.
//
// The primary action of a verb decides its Success. Secondary actions (trust sync, audit, notifications, training samples) are best-effort: their failures are logged and reflected only in the result's own fields.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/handlers"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/models"
)

var ErrSystemAccount = errors.New("cannot moderate a platform system account")

type BanHandler interface {
	Ban(ctx context.Context, req handlers.BanRequest) handlers.Outcome
	TempBan(ctx context.Context, req handlers.BanRequest, until time.Time) handlers.Outcome
	Unban(ctx context.Context, req handlers.BanRequest) handlers.Outcome
}

type WarnHandler interface {
	Warn(ctx context.Context, req handlers.WarnRequest) handlers.WarnOutcome
}

type TrustHandler interface {
	Trust(ctx context.Context, userID int64, who actor.Actor, reason string, expiresAt *time.Time) handlers.Outcome
	Untrust(ctx context.Context, userID int64, who actor.Actor, reason string) handlers.Outcome
}

type RestrictHandler interface {
	Restrict(ctx context.Context, req handlers.RestrictRequest) handlers.Outcome
}

type MessageHandler interface {
	Ensure(ctx context.Context, msg event.Message) (*models.Message, error)
	Delete(ctx context.Context, chatID, messageID int64) handlers.Outcome
}

type TrainingHandler interface {
	AddSample(ctx context.Context, req handlers.SampleRequest) (bool, error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID, chatID int64, text string) notify.DeliveryResult
	NotifyAdmins(ctx context.Context, n notify.Notice) error
}

type ConfigSource interface {
	WarningPolicy(ctx context.Context, chatID int64) config.WarningPolicy
}

type Orchestrator struct {
	Bans         BanHandler
	Warns        WarnHandler
	Trusts       TrustHandler
	Restrictions RestrictHandler
	Messages     MessageHandler
	Training     TrainingHandler
	Audit        AuditLog
	Notifier     Notifier
	Config       ConfigSource
	Logger       *slog.Logger

	// upper bound for background side effects
	BackgroundTimeout time.Duration

	wg sync.WaitGroup
}

func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Logger:            logger.With("component", "orchestrator"),
		BackgroundTimeout: 30 * time.Second,
	}
}

// Waits for background side effects (notifications) to finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Runs fn after the caller returns. The task is detached from the caller's cancellation; errors are logged.
func (o *Orchestrator) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.BackgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.Logger.Warn("background task failed", "task", name, "err", err)
			backgroundFailures.WithLabelValues(name).Inc()
		}
	}()
}

func (o *Orchestrator) audit(ctx context.Context, eventType string, who actor.Actor, userID, chatID int64, details string) {
	if o.Audit == nil {
		return
	}
	err := o.Audit.AppendAudit(ctx, &models.AuditEntry{
		EventType:    eventType,
		Actor:        who,
		TargetUserID: userID,
		ChatID:       chatID,
		Details:      details,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		o.Logger.Error("failed to write audit entry", "event", eventType, "user", userID, "err", err)
	}
}

func (o *Orchestrator) notifyAdmins(ctx context.Context, n notify.Notice) {
	if o.Notifier == nil {
		return
	}
	o.background(ctx, "notify_admins", func(ctx context.Context) error {
		return o.Notifier.NotifyAdmins(ctx, n)
	})
}

func (o *Orchestrator) notifyUser(ctx context.Context, userID, chatID int64, text string) {
	if o.Notifier == nil {
		return
	}
	o.background(ctx, "notify_user", func(ctx context.Context) error {
		res := o.Notifier.NotifyUser(ctx, userID, chatID, text)
		if !res.Success {
			return fmt.Errorf("delivery to user %d failed: %s", userID, res.Error)
		}
		return nil
	})
}

func systemAccountFailure(verb string, userID int64) ActionResult {
	actionsTotal.WithLabelValues(verb, "system_account").Inc()
	return failure(fmt.Sprintf("%s: user %d is a platform system account", ErrSystemAccount, userID))
}

func record(verb string, r ActionResult) {
	result := "ok"
	if !r.Success {
		result = "failed"
	}
	actionsTotal.WithLabelValues(verb, result).Inc()
}

type BanRequest struct {
	UserID    int64
	UserName  string
	ChatID    int64
	MessageID *int64
	Actor     actor.Actor
	Reason    string
}

func (o *Orchestrator) Ban(ctx context.Context, req BanRequest) BanResult {
	if event.IsSystemAccount(req.UserID) {
		return BanResult{ActionResult: systemAccountFailure("ban", req.UserID)}
	}
	logger := o.Logger.With("verb", "ban", "user", req.UserID, "actor", req.Actor.String())

	out := o.Bans.Ban(ctx, handlers.BanRequest{
		UserID:    req.UserID,
		Actor:     req.Actor,
		Reason:    req.Reason,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
	})
	res := BanResult{ActionResult: fromOutcome(out)}
	record("ban", res.ActionResult)
	if !res.Success {
		logger.Warn("ban failed", "err", res.ErrorMessage)
		return res
	}

	untrust := o.Trusts.Untrust(ctx, req.UserID, req.Actor, "trust revoked by ban: "+req.Reason)
	res.TrustRemoved = untrust.Success
	if !untrust.Success {
		logger.Error("ban succeeded but trust was not revoked", "err", untrust.Error)
	}

	o.audit(ctx, "user_banned", req.Actor, req.UserID, req.ChatID,
		fmt.Sprintf("%s (chats affected: %d, failed: %d)", req.Reason, res.ChatsAffected, res.ChatsFailed))
	o.notifyAdmins(ctx, notify.Notice{
		Title:    "User banned",
		UserID:   req.UserID,
		UserName: req.UserName,
		ChatID:   req.ChatID,
		Actor:    req.Actor,
		Reason:   req.Reason,
		Lines:    []string{fmt.Sprintf("Chats: %d banned, %d failed", res.ChatsAffected, res.ChatsFailed)},
	})
	logger.Info("user banned", "chats", res.ChatsAffected, "failed", res.ChatsFailed, "trust_removed", res.TrustRemoved)
	return res
}

type WarnRequest struct {
	UserID    int64
	UserName  string
	ChatID    int64
	MessageID *int64
	Actor     actor.Actor
	Reason    string
}

func (o *Orchestrator) Warn(ctx context.Context, req WarnRequest) WarnResult {
	if event.IsSystemAccount(req.UserID) {
		return WarnResult{ActionResult: systemAccountFailure("warn", req.UserID)}
	}
	logger := o.Logger.With("verb", "warn", "user", req.UserID, "chat", req.ChatID)

	policy := o.Config.WarningPolicy(ctx, req.ChatID)
	var expiry time.Duration
	if policy.ExpiryDays > 0 {
		expiry = time.Duration(policy.ExpiryDays) * 24 * time.Hour
	}
	out := o.Warns.Warn(ctx, handlers.WarnRequest{
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Actor:     req.Actor,
		Reason:    req.Reason,
		Expiry:    expiry,
	})
	res := WarnResult{ActionResult: fromOutcome(out.Outcome), WarningCount: out.WarningCount}
	record("warn", res.ActionResult)
	if !res.Success {
		logger.Warn("warn failed", "err", res.ErrorMessage)
		return res
	}
	o.audit(ctx, "user_warned", req.Actor, req.UserID, req.ChatID, fmt.Sprintf("%s (warning %d)", req.Reason, res.WarningCount))

	text := fmt.Sprintf("You have received a warning: %s", req.Reason)
	if policy.AutoBanEnabled {
		text = fmt.Sprintf("You have received a warning (%d/%d): %s", res.WarningCount, policy.AutoBanThreshold, req.Reason)
	}
	o.notifyUser(ctx, req.UserID, req.ChatID, text)

	if policy.AutoBanEnabled && res.WarningCount >= policy.AutoBanThreshold {
		logger.Info("warning threshold reached, banning", "count", res.WarningCount, "threshold", policy.AutoBanThreshold)
		ban := o.Ban(ctx, BanRequest{
			UserID:    req.UserID,
			UserName:  req.UserName,
			ChatID:    req.ChatID,
			MessageID: req.MessageID,
			Actor:     actor.AutoBan,
			Reason:    fmt.Sprintf("warning threshold reached (%d/%d): %s", res.WarningCount, policy.AutoBanThreshold, req.Reason),
		})
		res.AutoBanTriggered = ban.Success
		if !ban.Success {
			logger.Error("auto-ban after warnings failed", "err", ban.ErrorMessage)
		}
	}
	return res
}

func (o *Orchestrator) Trust(ctx context.Context, userID int64, who actor.Actor, reason string, expiresAt *time.Time) TrustResult {
	if event.IsSystemAccount(userID) {
		return TrustResult{ActionResult: systemAccountFailure("trust", userID)}
	}
	res := TrustResult{ActionResult: fromOutcome(o.Trusts.Trust(ctx, userID, who, reason, expiresAt))}
	record("trust", res.ActionResult)
	if res.Success {
		o.audit(ctx, "user_trusted", who, userID, models.GlobalChatID, reason)
	}
	return res
}

func (o *Orchestrator) Untrust(ctx context.Context, userID int64, who actor.Actor, reason string) TrustResult {
	if event.IsSystemAccount(userID) {
		return TrustResult{ActionResult: systemAccountFailure("untrust", userID)}
	}
	res := TrustResult{ActionResult: fromOutcome(o.Trusts.Untrust(ctx, userID, who, reason))}
	record("untrust", res.ActionResult)
	if res.Success {
		o.audit(ctx, "user_untrusted", who, userID, models.GlobalChatID, reason)
	}
	return res
}

func (o *Orchestrator) Unban(ctx context.Context, userID int64, who actor.Actor, reason string, restoreTrust bool) UnbanResult {
	if event.IsSystemAccount(userID) {
		return UnbanResult{ActionResult: systemAccountFailure("unban", userID)}
	}
	out := o.Bans.Unban(ctx, handlers.BanRequest{UserID: userID, Actor: who, Reason: reason})
	res := UnbanResult{ActionResult: fromOutcome(out)}
	record("unban", res.ActionResult)
	if !res.Success {
		return res
	}
	if restoreTrust {
		trust := o.Trusts.Trust(ctx, userID, who, "trust restored on unban: "+reason, nil)
		res.TrustRestored = trust.Success
		if !trust.Success {
			o.Logger.Error("unban succeeded but trust was not restored", "user", userID, "err", trust.Error)
		}
	}
	o.audit(ctx, "user_unbanned", who, userID, models.GlobalChatID, reason)
	return res
}

// Restricts the user. A nil chatID restricts in every managed chat. A zero until means indefinitely.
func (o *Orchestrator) Restrict(ctx context.Context, userID int64, chatID *int64, who actor.Actor, reason string, until time.Time) RestrictResult {
	if event.IsSystemAccount(userID) {
		return RestrictResult{ActionResult: systemAccountFailure("restrict", userID)}
	}
	target := models.GlobalChatID
	if chatID != nil {
		target = *chatID
	}
	out := o.Restrictions.Restrict(ctx, handlers.RestrictRequest{
		UserID: userID,
		ChatID: target,
		Actor:  who,
		Reason: reason,
		Until:  until,
	})
	res := RestrictResult{ActionResult: fromOutcome(out)}
	record("restrict", res.ActionResult)
	if res.Success {
		o.audit(ctx, "user_restricted", who, userID, target, reason)
	}
	return res
}

// Bans for a fixed duration. Unlike Ban, trust is left in place: the user is expected back.
func (o *Orchestrator) TempBan(ctx context.Context, req BanRequest, duration time.Duration) TempBanResult {
	if event.IsSystemAccount(req.UserID) {
		return TempBanResult{ActionResult: systemAccountFailure("tempban", req.UserID)}
	}
	if duration <= 0 {
		return TempBanResult{ActionResult: failure("temporary ban duration must be positive")}
	}
	until := time.Now().Add(duration)
	out := o.Bans.TempBan(ctx, handlers.BanRequest{
		UserID:    req.UserID,
		Actor:     req.Actor,
		Reason:    req.Reason,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
	}, until)
	res := TempBanResult{ActionResult: fromOutcome(out)}
	record("tempban", res.ActionResult)
	if !res.Success {
		return res
	}
	res.ExpiresAt = until
	o.audit(ctx, "user_tempbanned", req.Actor, req.UserID, req.ChatID, fmt.Sprintf("%s (until %s)", req.Reason, until.UTC().Format(time.RFC3339)))
	o.notifyUser(ctx, req.UserID, req.ChatID, fmt.Sprintf("You have been banned until %s: %s", until.UTC().Format(time.RFC1123), req.Reason))
	return res
}

func (o *Orchestrator) DeleteMessage(ctx context.Context, chatID, messageID int64, who actor.Actor, reason string) DeleteResult {
	res := DeleteResult{ActionResult: fromOutcome(o.Messages.Delete(ctx, chatID, messageID))}
	record("delete", res.ActionResult)
	if res.Success {
		o.audit(ctx, "message_deleted", who, 0, chatID, fmt.Sprintf("message %d: %s", messageID, reason))
	}
	return res
}

// Deletes the message, bans its author, and adds the text to the spam training corpus.
func (o *Orchestrator) MarkAsSpamAndBan(ctx context.Context, msg event.Message, who actor.Actor, reason string) SpamBanResult {
	if event.IsSystemAccount(msg.UserID) {
		return SpamBanResult{ActionResult: systemAccountFailure("spam_ban", msg.UserID)}
	}
	logger := o.Logger.With("verb", "spam_ban", "user", msg.UserID, "chat", msg.ChatID, "message", msg.MessageID)

	text := msg.Text
	if row, err := o.Messages.Ensure(ctx, msg); err != nil {
		logger.Warn("could not backfill message", "err", err)
	} else if text == "" {
		text = row.Text
	}

	var res SpamBanResult
	del := o.Messages.Delete(ctx, msg.ChatID, msg.MessageID)
	res.MessageDeleted = del.Success
	if !del.Success {
		logger.Warn("spam message delete failed, banning anyway", "err", del.Error)
	}

	messageID := msg.MessageID
	ban := o.Ban(ctx, BanRequest{
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		ChatID:    msg.ChatID,
		MessageID: &messageID,
		Actor:     who,
		Reason:    reason,
	})
	res.ActionResult = ban.ActionResult
	res.TrustRemoved = ban.TrustRemoved
	if !ban.Success {
		return res
	}

	if o.Training != nil {
		added, err := o.Training.AddSample(ctx, handlers.SampleRequest{
			Text:      text,
			IsSpam:    true,
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			Source:    who,
		})
		if err != nil {
			logger.Error("failed to add training sample", "err", err)
		}
		res.TrainingSampleAdded = added
	}
	return res
}
