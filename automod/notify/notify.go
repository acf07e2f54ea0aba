// Side-effect notifications: admin alerts (Slack webhook and chat DMs) and messages to moderated users.
//
// Delivery failures are returned to callers for logging; nothing in the moderation path treats them as fatal.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatwarden/warden/automod/actor"

	"github.com/rivo/uniseg"
)

type DeliveryMethod string

const (
	DeliveryDM      DeliveryMethod = "dm"
	DeliveryMention DeliveryMethod = "mention"
	DeliveryNone    DeliveryMethod = "none"
)

type DeliveryResult struct {
	Success bool
	Method  DeliveryMethod
	Error   string
}

// Sends a text to a user: direct message if possible, otherwise a mention in the given chat.
type Messenger interface {
	SendToUser(ctx context.Context, userID, chatID int64, text string) DeliveryResult
}

// An alert for chat admins about a moderation event.
type Notice struct {
	Title    string
	UserID   int64
	UserName string
	ChatID   int64
	Actor    actor.Actor
	Reason   string
	// offending message text, shortened to excerptGraphemes
	Excerpt string
	Lines   []string
}

const excerptGraphemes = 200

// Shortens s to at most max grapheme clusters, so that emoji and combining sequences are never split.
func truncateGraphemes(s string, max int) string {
	gr := uniseg.NewGraphemes(s)
	var sb strings.Builder
	n := 0
	for gr.Next() {
		if n == max {
			sb.WriteString("...")
			break
		}
		sb.WriteString(gr.Str())
		n++
	}
	return sb.String()
}

func (n Notice) Text() string {
	var sb strings.Builder
	sb.WriteString(n.Title)
	sb.WriteString("\n")
	if n.UserName != "" {
		fmt.Fprintf(&sb, "User: %s (%d)\n", n.UserName, n.UserID)
	} else if n.UserID != 0 {
		fmt.Fprintf(&sb, "User: %d\n", n.UserID)
	}
	if n.ChatID != 0 {
		fmt.Fprintf(&sb, "Chat: %d\n", n.ChatID)
	}
	if n.Actor.Kind != "" {
		fmt.Fprintf(&sb, "By: %s\n", n.Actor.DisplayName())
	}
	if n.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", n.Reason)
	}
	if n.Excerpt != "" {
		fmt.Fprintf(&sb, "Message: %s\n", truncateGraphemes(n.Excerpt, excerptGraphemes))
	}
	for _, l := range n.Lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String()
}

type Service struct {
	Messenger Messenger
	Slack     *SlackNotifier
	// users who receive admin notices by direct message
	AdminUserIDs []int64
	Logger       *slog.Logger
}

func NewService(messenger Messenger, slack *SlackNotifier, adminUserIDs []int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Messenger:    messenger,
		Slack:        slack,
		AdminUserIDs: adminUserIDs,
		Logger:       logger.With("component", "notify"),
	}
}

func (s *Service) NotifyUser(ctx context.Context, userID, chatID int64, text string) DeliveryResult {
	if s.Messenger == nil {
		return DeliveryResult{Method: DeliveryNone, Error: "no messenger configured"}
	}
	res := s.Messenger.SendToUser(ctx, userID, chatID, text)
	notificationsSent.WithLabelValues("user", string(res.Method), fmt.Sprint(res.Success)).Inc()
	return res
}

// Fans the notice out to every configured admin channel. Returns the joined errors of channels which failed.
func (s *Service) NotifyAdmins(ctx context.Context, n Notice) error {
	var errs []error
	if s.Slack != nil {
		err := s.Slack.Send(ctx, n)
		notificationsSent.WithLabelValues("slack", "webhook", fmt.Sprint(err == nil)).Inc()
		if err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	if s.Messenger != nil {
		text := n.Text()
		for _, adminID := range s.AdminUserIDs {
			// admin notices are DM-only; there is no sensible chat to mention them in
			res := s.Messenger.SendToUser(ctx, adminID, 0, text)
			notificationsSent.WithLabelValues("admin", string(res.Method), fmt.Sprint(res.Success)).Inc()
			if !res.Success {
				errs = append(errs, fmt.Errorf("admin %d: %s", adminID, res.Error))
			}
		}
	}
	return errors.Join(errs...)
}
