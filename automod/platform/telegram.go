// Telegram Bot API adapter: the per-chat platform calls used by enforcement, cleanup, health checks and notifications.
package platform

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/chatwarden/warden/automod/health"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/models"
	"github.com/chatwarden/warden/pkg/robusthttp"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type UpdateHandler func(ctx context.Context, update tgbotapi.Update)

type Config struct {
	Token string
	// Bot API endpoint format string; defaults to the public API
	Endpoint string
	// global limit on outbound calls per second
	RateLimit   float64
	PollTimeout int
}

type Telegram struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
	poll    int
	dryRun  bool
}

// Connects to the Bot API. With an empty token the adapter runs in dry mode: calls are logged and succeed, and no updates are received.
func NewTelegram(cfg Config, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram")
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 25
	}
	t := &Telegram{
		limiter: rate.NewLimiter(rate.Limit(limit), 5),
		logger:  logger,
		poll:    cfg.PollTimeout,
	}
	if t.poll <= 0 || t.poll > 50 {
		// must stay below the HTTP client timeout
		t.poll = 30
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		t.dryRun = true
		return t, nil
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := robusthttp.NewClient(
		robusthttp.WithMaxRetries(2),
		robusthttp.WithLogger(logger),
		robusthttp.WithTimeout(60*time.Second),
	)
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	t.api = api
	logger.Info("connected to telegram", "bot", api.Self.UserName, "bot_id", api.Self.ID)
	return t, nil
}

func (t *Telegram) DryRun() bool {
	return t.dryRun
}

func (t *Telegram) BotID() int64 {
	if t.api == nil {
		return 0
	}
	return t.api.Self.ID
}

func (t *Telegram) request(ctx context.Context, method string, c tgbotapi.Chattable) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if t.dryRun {
		t.logger.Info("dry run: skipping telegram call", "method", method)
		return nil
	}
	start := time.Now()
	resp, err := t.api.Request(c)
	platformDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		platformCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if !resp.Ok {
		platformCalls.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("telegram %s: %s", method, resp.Description)
	}
	platformCalls.WithLabelValues(method, "ok").Inc()
	return nil
}

func untilUnix(until time.Time) int64 {
	if until.IsZero() {
		return 0
	}
	return until.Unix()
}

func (t *Telegram) BanChatMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	return t.request(ctx, "banChatMember", tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        untilUnix(until),
		RevokeMessages:   true,
	})
}

// Removes every permission from the member.
func (t *Telegram) RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	return t.request(ctx, "restrictChatMember", tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        untilUnix(until),
		Permissions:      &tgbotapi.ChatPermissions{},
	})
}

func (t *Telegram) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	return t.request(ctx, "unbanChatMember", tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	})
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return t.request(ctx, "deleteMessage", tgbotapi.NewDeleteMessage(chatID, int(messageID)))
}

func (t *Telegram) BotPermissions(ctx context.Context, chatID int64) (health.BotPermissions, error) {
	if t.dryRun {
		return health.BotPermissions{IsAdmin: true, CanRestrict: true, CanDelete: true}, nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return health.BotPermissions{}, err
	}
	m, err := t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: t.api.Self.ID},
	})
	if err != nil {
		platformCalls.WithLabelValues("getChatMember", "error").Inc()
		return health.BotPermissions{}, fmt.Errorf("telegram getChatMember: %w", err)
	}
	platformCalls.WithLabelValues("getChatMember", "ok").Inc()
	if m.IsCreator() {
		return health.BotPermissions{IsAdmin: true, CanRestrict: true, CanDelete: true}, nil
	}
	return health.BotPermissions{
		IsAdmin:     m.IsAdministrator(),
		CanRestrict: m.IsAdministrator() && m.CanRestrictMembers,
		CanDelete:   m.IsAdministrator() && m.CanDeleteMessages,
	}, nil
}

func (t *Telegram) ChatAdmins(ctx context.Context, chatID int64) ([]models.ChatAdmin, error) {
	if t.dryRun {
		return nil, nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	members, err := t.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		platformCalls.WithLabelValues("getChatAdministrators", "error").Inc()
		return nil, fmt.Errorf("telegram getChatAdministrators: %w", err)
	}
	platformCalls.WithLabelValues("getChatAdministrators", "ok").Inc()
	out := make([]models.ChatAdmin, 0, len(members))
	for _, m := range members {
		if m.User == nil || m.User.IsBot {
			continue
		}
		out = append(out, models.ChatAdmin{ChatID: chatID, UserID: m.User.ID, IsCreator: m.IsCreator()})
	}
	return out, nil
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return t.request(ctx, "sendMessage", msg)
}

// Sends a direct message to the user. If that fails (eg, the user never started the bot) and chatID is set, mentions the user in that chat instead.
func (t *Telegram) SendToUser(ctx context.Context, userID, chatID int64, text string) notify.DeliveryResult {
	body := html.EscapeString(text)
	dmErr := t.send(ctx, userID, body)
	if dmErr == nil {
		return notify.DeliveryResult{Success: true, Method: notify.DeliveryDM}
	}
	if chatID == 0 {
		return notify.DeliveryResult{Method: notify.DeliveryNone, Error: dmErr.Error()}
	}
	mention := fmt.Sprintf(`<a href="tg://user?id=%d">user</a>, %s`, userID, body)
	if err := t.send(ctx, chatID, mention); err != nil {
		return notify.DeliveryResult{Method: notify.DeliveryNone, Error: errors.Join(dmErr, err).Error()}
	}
	return notify.DeliveryResult{Success: true, Method: notify.DeliveryMention}
}

// Long-polls for updates and hands each one to the handler, until the context is cancelled.
func (t *Telegram) Run(ctx context.Context, handler UpdateHandler) error {
	if t.dryRun {
		t.logger.Warn("telegram token is empty, running in dry mode")
		<-ctx.Done()
		return nil
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.poll
	cfg.AllowedUpdates = []string{"message", "edited_message", "my_chat_member"}
	updates := t.api.GetUpdatesChan(cfg)
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			handler(ctx, update)
		}
	}
}
