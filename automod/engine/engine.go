package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/router"
	"github.com/chatwarden/warden/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
}

type Gate interface {
	Evaluate(ctx context.Context, req detection.ContentCheckRequest) (*gate.Result, error)
}

type Router interface {
	Handle(ctx context.Context, msg event.Message, gr *gate.Result) (router.Outcome, error)
}

// runtime for the per-message moderation pipeline: record, gate, detect, route, act.
//
// Messages are independent of each other; ProcessMessage may be called concurrently.
type Engine struct {
	Logger *slog.Logger
	// optional; messages are recorded for backfill and cross-chat cleanup
	Messages MessageStore
	Gate     Gate
	Router   Router
	// upper bound on the whole pipeline for one message. zero means no limit
	Timeout time.Duration
}

func NewEngine(messages MessageStore, g Gate, r Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:   logger.With("component", "engine"),
		Messages: messages,
		Gate:     g,
		Router:   r,
		Timeout:  2 * time.Minute,
	}
}

// Runs the full pipeline for one inbound message. Returns an error if detection or the routed action could not be completed; the message itself is never retried.
func (eng *Engine) ProcessMessage(ctx context.Context, msg event.Message) (err error) {
	start := time.Now()
	outcome := "none"
	logger := eng.Logger.With("chat", msg.ChatID, "user", msg.UserID, "message", msg.MessageID)

	// similar to an HTTP server, we want to recover any panics from message processing
	defer func() {
		if r := recover(); r != nil {
			logger.Error("message processing exception", "err", r)
			err = fmt.Errorf("message %d in chat %d: panic: %v", msg.MessageID, msg.ChatID, r)
			outcome = "panic"
		}
		messageProcessCount.WithLabelValues(outcome).Inc()
		messageProcessDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			messageErrorCount.WithLabelValues(outcome).Inc()
		}
	}()

	ctx, span := otel.Tracer("warden").Start(ctx, "ProcessMessage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat", msg.ChatID),
		attribute.Int64("user", msg.UserID),
		attribute.Int64("message", msg.MessageID),
	)

	if event.IsSystemAccount(msg.UserID) {
		logger.Debug("skipping system account message")
		outcome = "system_account"
		return nil
	}

	if eng.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.Timeout)
		defer cancel()
	}

	if eng.Messages != nil {
		row := &models.Message{
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			Text:      msg.Text,
			SentAt:    msg.SentAt,
		}
		if row.SentAt.IsZero() {
			row.SentAt = time.Now()
		}
		if err := eng.Messages.SaveMessage(ctx, row); err != nil {
			// cleanup may miss this message, but moderation goes ahead
			logger.Warn("failed to record message", "err", err)
		}
	}

	if msg.Text == "" {
		logger.Debug("no text to check", "media", msg.HasMedia)
		outcome = "empty"
		return nil
	}

	gr, err := eng.Gate.Evaluate(ctx, detection.ContentCheckRequest{
		UserID:      msg.UserID,
		ChatID:      msg.ChatID,
		MessageID:   msg.MessageID,
		MessageText: msg.Text,
	})
	if err != nil {
		outcome = "detection_error"
		span.RecordError(err)
		return fmt.Errorf("checking message: %w", err)
	}
	if !gr.NeedsRouting() {
		logger.Debug("detection skipped", "reason", gr.SkipReason)
		outcome = "skipped"
		return nil
	}

	out, err := eng.Router.Handle(ctx, msg, gr)
	outcome = string(out.Decision.Kind)
	span.SetAttributes(attribute.String("decision", outcome))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("acting on %s decision: %w", out.Decision.Kind, err)
	}
	if out.Decision.Kind != router.KindNone {
		logger.Info("message moderated",
			"decision", out.Decision.Kind,
			"reason", out.Decision.Reason,
			"banned", out.Banned,
			"deleted", out.MessageDeleted,
			"report", out.ReportID,
		)
	}
	return nil
}
