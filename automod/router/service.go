package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/models"
)

const (
	counterAutoBan = "automod-ban"
	// default cap on automated bans per day, across all chats
	QuotaAutoBanDay = 200
)

type Moderator interface {
	Ban(ctx context.Context, req orchestrator.BanRequest) orchestrator.BanResult
	DeleteMessage(ctx context.Context, chatID, messageID int64, who actor.Actor, reason string) orchestrator.DeleteResult
}

type ReportStore interface {
	CreateReport(ctx context.Context, r *models.DetectionReport) error
}

type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, n notify.Notice) error
}

type ThresholdSource interface {
	DetectionThresholds(ctx context.Context, chatID int64) config.DetectionThresholds
}

// Outcome of handling one message's detection result.
type Outcome struct {
	Decision       Decision
	Banned         bool
	MessageDeleted bool
	ReportID       uint64
}

// Executes routing decisions: bans and deletes through the orchestrator, files reports, and alerts admins.
type ActionService struct {
	Moderator  Moderator
	Reports    ReportStore
	Notifier   AdminNotifier
	Thresholds ThresholdSource
	Counters   countstore.CountStore
	Logger     *slog.Logger

	QuotaAutoBanDay int
}

func NewActionService(mod Moderator, reports ReportStore, notifier AdminNotifier, thresholds ThresholdSource, counters countstore.CountStore, logger *slog.Logger) *ActionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionService{
		Moderator:       mod,
		Reports:         reports,
		Notifier:        notifier,
		Thresholds:      thresholds,
		Counters:        counters,
		Logger:          logger.With("component", "router"),
		QuotaAutoBanDay: QuotaAutoBanDay,
	}
}

// Routes and acts on a gate result which needs routing. A returned error means the decision could not be carried out (eg, the review report was not stored); the Outcome still says what was decided and done.
func (s *ActionService) Handle(ctx context.Context, msg event.Message, gr *gate.Result) (Outcome, error) {
	logger := s.Logger.With("chat", msg.ChatID, "user", msg.UserID, "message", msg.MessageID)
	th := s.Thresholds.DetectionThresholds(ctx, msg.ChatID)
	d := Route(gr.SpamResult, th)

	privileged := gr.IsUserTrusted || gr.IsUserAdmin
	if d.Kind == KindAutoBan && privileged {
		// only critical checks may act against trusted users or admins without a human
		d = Decision{Kind: KindReview, Reason: "privileged user: " + d.Reason}
	}
	if d.IsBan() {
		if tripped, err := s.banBreakerTripped(ctx); err != nil {
			logger.Error("reading auto-ban counter", "err", err)
		} else if tripped {
			logger.Warn("auto-ban circuit breaker tripped, downgrading to review", "quota", s.QuotaAutoBanDay)
			d = Decision{Kind: KindReview, Reason: "circuit breaker: daily auto-ban quota reached; " + d.Reason}
		}
	}
	routeDecisions.WithLabelValues(string(d.Kind)).Inc()

	out := Outcome{Decision: d}
	switch d.Kind {
	case KindNone:
		return out, nil
	case KindHardBlock, KindAutoBan:
		return s.ban(ctx, logger, msg, gr, out)
	case KindMalware:
		return s.contain(ctx, logger, msg, gr, out)
	case KindReview:
		return s.review(ctx, logger, msg, gr, out)
	default:
		return out, fmt.Errorf("unhandled route decision: %s", d.Kind)
	}
}

func (s *ActionService) banBreakerTripped(ctx context.Context) (bool, error) {
	if s.Counters == nil || s.QuotaAutoBanDay <= 0 {
		return false, nil
	}
	c, err := s.Counters.GetCount(ctx, counterAutoBan, "global", countstore.PeriodDay)
	if err != nil {
		return false, err
	}
	return c >= s.QuotaAutoBanDay, nil
}

func (s *ActionService) ban(ctx context.Context, logger *slog.Logger, msg event.Message, gr *gate.Result, out Outcome) (Outcome, error) {
	del := s.Moderator.DeleteMessage(ctx, msg.ChatID, msg.MessageID, actor.AutoDetection, out.Decision.Reason)
	out.MessageDeleted = del.Success
	if !del.Success {
		logger.Warn("failed to delete spam message", "err", del.ErrorMessage)
	}

	messageID := msg.MessageID
	ban := s.Moderator.Ban(ctx, orchestrator.BanRequest{
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		ChatID:    msg.ChatID,
		MessageID: &messageID,
		Actor:     actor.AutoDetection,
		Reason:    out.Decision.Reason,
	})
	out.Banned = ban.Success
	if ban.Success && s.Counters != nil {
		if err := s.Counters.Increment(ctx, counterAutoBan, "global"); err != nil {
			logger.Error("incrementing auto-ban counter", "err", err)
		}
	}

	status := models.ReportResolved
	if !ban.Success || ban.ChatsAffected == 0 {
		// a human needs to look at spam we could not act on
		status = models.ReportPending
		logger.Warn("automatic ban failed", "err", ban.ErrorMessage)
	}
	id, err := s.fileReport(ctx, msg, gr, out.Decision, status)
	out.ReportID = id
	if err != nil && !ban.Success {
		return out, fmt.Errorf("ban failed (%s) and report not stored: %w", ban.ErrorMessage, err)
	}
	if err != nil {
		logger.Error("failed to store auto-ban report", "err", err)
	}
	return out, nil
}

func (s *ActionService) contain(ctx context.Context, logger *slog.Logger, msg event.Message, gr *gate.Result, out Outcome) (Outcome, error) {
	del := s.Moderator.DeleteMessage(ctx, msg.ChatID, msg.MessageID, actor.FileScanner, out.Decision.Reason)
	out.MessageDeleted = del.Success
	if !del.Success {
		logger.Error("failed to delete malware message", "err", del.ErrorMessage)
	}
	id, err := s.fileReport(ctx, msg, gr, out.Decision, models.ReportPending)
	out.ReportID = id
	s.alert(ctx, logger, "Malware removed", msg, gr, out)
	if err != nil {
		return out, fmt.Errorf("storing malware report: %w", err)
	}
	return out, nil
}

func (s *ActionService) review(ctx context.Context, logger *slog.Logger, msg event.Message, gr *gate.Result, out Outcome) (Outcome, error) {
	id, err := s.fileReport(ctx, msg, gr, out.Decision, models.ReportPending)
	if err != nil {
		return out, fmt.Errorf("storing review report: %w", err)
	}
	out.ReportID = id
	s.alert(ctx, logger, "Message needs review", msg, gr, out)
	return out, nil
}

func (s *ActionService) fileReport(ctx context.Context, msg event.Message, gr *gate.Result, d Decision, status string) (uint64, error) {
	details := gr.SpamResult.Summary()
	if len(gr.CriticalCheckViolations) > 0 {
		details = "critical: " + strings.Join(gr.CriticalCheckViolations, "; ") + "\n" + details
	}
	r := &models.DetectionReport{
		ChatID:     msg.ChatID,
		MessageID:  msg.MessageID,
		UserID:     msg.UserID,
		Action:     string(d.Kind),
		Reason:     d.Reason,
		Details:    details,
		Status:     status,
		ReportedBy: actor.AutoDetection,
	}
	if gr.SpamResult != nil {
		r.NetConfidence = gr.SpamResult.NetConfidence
		r.MaxConfidence = gr.SpamResult.MaxConfidence
	}
	if err := s.Reports.CreateReport(ctx, r); err != nil {
		return 0, err
	}
	return r.ID, nil
}

func (s *ActionService) alert(ctx context.Context, logger *slog.Logger, title string, msg event.Message, gr *gate.Result, out Outcome) {
	if s.Notifier == nil {
		return
	}
	lines := []string{}
	if out.ReportID != 0 {
		lines = append(lines, fmt.Sprintf("Report: #%d", out.ReportID))
	}
	if gr.SpamResult != nil {
		lines = append(lines, strings.TrimRight(gr.SpamResult.Summary(), "\n"))
	}
	err := s.Notifier.NotifyAdmins(ctx, notify.Notice{
		Title:    title,
		UserID:   msg.UserID,
		UserName: msg.UserName,
		ChatID:   msg.ChatID,
		Actor:    actor.AutoDetection,
		Reason:   out.Decision.Reason,
		Excerpt:  msg.Text,
		Lines:    lines,
	})
	if err != nil {
		logger.Warn("admin alert failed", "err", err)
	}
}
