package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatwarden/warden/models"

	"golang.org/x/sync/errgroup"
)

type BotPermissions struct {
	IsAdmin     bool
	CanRestrict bool
	CanDelete   bool
}

// Queries the chat platform for the bot's own standing in a chat.
type Prober interface {
	BotPermissions(ctx context.Context, chatID int64) (BotPermissions, error)
	ChatAdmins(ctx context.Context, chatID int64) ([]models.ChatAdmin, error)
}

type Store interface {
	ListActive(ctx context.Context) ([]models.ManagedChat, error)
	SetChatHealth(ctx context.Context, chatID int64, status models.HealthStatus) error
	SetChatAdmins(ctx context.Context, chatID int64, admins []models.ChatAdmin) error
}

// Periodically re-checks every active chat, refreshing the health cache and the admin roster.
type Monitor struct {
	Cache       *Cache
	Prober      Prober
	Store       Store
	Interval    time.Duration
	Concurrency int
	Logger      *slog.Logger
}

func NewMonitor(cache *Cache, prober Prober, store Store, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		Cache:       cache,
		Prober:      prober,
		Store:       store,
		Interval:    interval,
		Concurrency: 4,
		Logger:      logger.With("component", "health"),
	}
}

func statusFor(perms BotPermissions) models.HealthStatus {
	switch {
	case !perms.IsAdmin || !perms.CanRestrict:
		return models.HealthError
	case !perms.CanDelete:
		return models.HealthWarning
	default:
		return models.HealthHealthy
	}
}

// Probes a single chat and updates the cache. Probe failures are recorded as HealthError rather than returned.
func (m *Monitor) CheckChat(ctx context.Context, chatID int64) ChatHealth {
	h := ChatHealth{ChatID: chatID, CheckedAt: time.Now()}
	perms, err := m.Prober.BotPermissions(ctx, chatID)
	if err != nil {
		h.Status = models.HealthError
		h.Error = err.Error()
	} else {
		h.IsAdmin = perms.IsAdmin
		h.CanRestrict = perms.CanRestrict
		h.CanDelete = perms.CanDelete
		h.Status = statusFor(perms)
	}
	m.Cache.Set(h)
	return h
}

// Probes one chat, persists a changed status, and refreshes its admin roster.
func (m *Monitor) RefreshChat(ctx context.Context, chat models.ManagedChat) {
	logger := m.Logger.With("chat", chat.ChatID)
	prev, hadPrev := m.Cache.Get(chat.ChatID)
	h := m.CheckChat(ctx, chat.ChatID)
	if h.Error != "" {
		logger.Warn("chat health probe failed", "err", h.Error)
	}
	if hadPrev && prev.Status != h.Status {
		logger.Info("chat health changed", "from", prev.Status, "to", h.Status)
	}
	if h.Status != chat.HealthStatus {
		if err := m.Store.SetChatHealth(ctx, chat.ChatID, h.Status); err != nil {
			logger.Error("failed to persist chat health", "err", err)
		}
	}

	if h.Error != "" {
		return
	}
	admins, err := m.Prober.ChatAdmins(ctx, chat.ChatID)
	if err != nil {
		logger.Warn("failed to fetch chat admins", "err", err)
		return
	}
	if err := m.Store.SetChatAdmins(ctx, chat.ChatID, admins); err != nil {
		logger.Error("failed to store chat admins", "err", err)
	}
}

// Re-checks every active chat once.
func (m *Monitor) Refresh(ctx context.Context) error {
	chats, err := m.Store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active chats: %w", err)
	}

	keep := make(map[int64]bool, len(chats))
	for _, c := range chats {
		keep[c.ChatID] = true
	}
	m.Cache.Retain(keep)

	limit := m.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, chat := range chats {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			m.RefreshChat(gctx, chat)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	counts := map[models.HealthStatus]int{}
	for _, h := range m.Cache.Snapshot() {
		counts[h.Status]++
	}
	for _, st := range []models.HealthStatus{models.HealthHealthy, models.HealthWarning, models.HealthError} {
		chatHealthGauge.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	return ctx.Err()
}

// Refreshes immediately, then on every tick until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.Logger.Error("health refresh failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.Logger.Error("health refresh failed", "err", err)
			}
		}
	}
}
