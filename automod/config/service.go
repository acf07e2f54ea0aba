package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chatwarden/warden/automod/cachestore"
	"github.com/chatwarden/warden/models"
)

const cacheName = "chatcfg"

type Store interface {
	// Returns nil (and no error) if the chat has no stored configuration.
	GetChatConfig(ctx context.Context, chatID int64) (*models.ChatConfig, error)
	SaveChatConfig(ctx context.Context, cfg *models.ChatConfig) error
}

// Loads per-chat moderation configuration.
//
// Layers, lowest precedence first: built-in defaults, the global row (chat 0), the chat's own row. Any field missing from a stored document keeps the value from the layer below. Load never fails: storage errors and corrupt documents are logged and the affected layer is skipped.
type Service struct {
	Store  Store
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

func NewService(store Store, cache cachestore.CacheStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:  store,
		Cache:  cache,
		Logger: logger.With("component", "config"),
	}
}

func (s *Service) Load(ctx context.Context, chatID int64) ModerationConfig {
	key := strconv.FormatInt(chatID, 10)
	if s.Cache != nil {
		cached, ok, err := cachestore.GetJSON[ModerationConfig](ctx, s.Cache, cacheName, key)
		if err != nil {
			s.Logger.Warn("reading config cache", "chat", chatID, "err", err)
		} else if ok {
			return *cached
		}
	}

	cfg := Default()
	layers := []int64{models.GlobalChatID}
	if chatID != models.GlobalChatID {
		layers = append(layers, chatID)
	}
	for _, id := range layers {
		s.applyLayer(ctx, &cfg, id)
	}
	if err := cfg.Validate(); err != nil {
		s.Logger.Error("invalid moderation config, using defaults", "chat", chatID, "err", err)
		configLoadFailures.Inc()
		cfg = Default()
	}

	if s.Cache != nil {
		if err := cachestore.SetJSON(ctx, s.Cache, cacheName, key, cfg); err != nil {
			s.Logger.Warn("writing config cache", "chat", chatID, "err", err)
		}
	}
	return cfg
}

func (s *Service) applyLayer(ctx context.Context, cfg *ModerationConfig, chatID int64) {
	if s.Store == nil {
		return
	}
	row, err := s.Store.GetChatConfig(ctx, chatID)
	if err != nil {
		s.Logger.Error("loading chat config, falling back", "chat", chatID, "err", err)
		configLoadFailures.Inc()
		return
	}
	if row == nil || row.Data == "" {
		return
	}
	// decode on top of a copy, so a half-parsed document can't leak in to the result
	layered := *cfg
	layered.Checks = append([]CheckConfig(nil), cfg.Checks...)
	if err := json.Unmarshal([]byte(row.Data), &layered); err != nil {
		s.Logger.Error("corrupt chat config document, ignoring", "chat", chatID, "err", err)
		configLoadFailures.Inc()
		return
	}
	*cfg = layered
}

// Validates and stores the configuration for a chat, and purges its cache entry.
//
// Cached configs of other chats which inherit from the global row pick up changes when their cache entry expires.
func (s *Service) Save(ctx context.Context, chatID int64, cfg ModerationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.Store.SaveChatConfig(ctx, &models.ChatConfig{
		ChatID:    chatID,
		Data:      string(b),
		UpdatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("saving chat config: %w", err)
	}
	if s.Cache != nil {
		return s.Cache.Purge(ctx, cacheName, strconv.FormatInt(chatID, 10))
	}
	return nil
}

func (s *Service) CriticalCheckNames(ctx context.Context, chatID int64) ([]string, error) {
	cfg := s.Load(ctx, chatID)
	return cfg.CriticalCheckNames(), nil
}

func (s *Service) DetectionThresholds(ctx context.Context, chatID int64) DetectionThresholds {
	return s.Load(ctx, chatID).Detection
}

func (s *Service) WarningPolicy(ctx context.Context, chatID int64) WarningPolicy {
	return s.Load(ctx, chatID).Warnings
}
