package main

import (
	"context"
	"time"

	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Entry point for every update from the long-poll loop. Messages are processed concurrently, bounded by the in-flight semaphore; when it is full, polling blocks.
func (s *Server) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.MyChatMember != nil:
		updatesReceived.WithLabelValues("my_chat_member").Inc()
		s.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		updatesReceived.WithLabelValues("message").Inc()
		s.dispatch(ctx, update.Message)
	case update.EditedMessage != nil:
		updatesReceived.WithLabelValues("edited_message").Inc()
		s.dispatch(ctx, update.EditedMessage)
	default:
		updatesReceived.WithLabelValues("other").Inc()
	}
}

func (s *Server) dispatch(ctx context.Context, m *tgbotapi.Message) {
	msg, ok := convertMessage(m, s.telegram.BotID())
	if !ok {
		return
	}
	if err := s.inflight.Acquire(ctx, 1); err != nil {
		// shutting down
		return
	}
	go func() {
		defer s.inflight.Release(1)
		s.ensureChat(ctx, m.Chat)
		if err := s.engine.ProcessMessage(ctx, msg); err != nil {
			s.logger.Error("processing message failed", "chat", msg.ChatID, "message", msg.MessageID, "user", msg.UserID, "err", err)
		}
	}()
}

// Converts a group message to the pipeline's message type. Returns false for messages which are never moderated: private chats, messages without a sender, and the bot's own messages.
func convertMessage(m *tgbotapi.Message, botID int64) (event.Message, bool) {
	if m == nil || m.Chat == nil || m.From == nil {
		return event.Message{}, false
	}
	if !m.Chat.IsGroup() && !m.Chat.IsSuperGroup() {
		return event.Message{}, false
	}
	if botID != 0 && m.From.ID == botID {
		return event.Message{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	sent := time.Unix(int64(m.Date), 0)
	if m.EditDate != 0 {
		sent = time.Unix(int64(m.EditDate), 0)
	}
	return event.Message{
		ChatID:    m.Chat.ID,
		MessageID: int64(m.MessageID),
		UserID:    m.From.ID,
		UserName:  m.From.String(),
		Text:      text,
		SentAt:    sent,
		HasMedia:  len(m.Photo) > 0 || m.Document != nil || m.Video != nil || m.Animation != nil || m.Voice != nil || m.Sticker != nil,
	}, true
}

// Makes sure a chat we receive messages from is a managed chat with a known health status.
func (s *Server) ensureChat(ctx context.Context, chat *tgbotapi.Chat) {
	if _, ok := s.seenChats.Get(chat.ID); ok {
		return
	}
	if err := s.store.UpsertChat(ctx, chat.ID, chat.Title, chat.Type); err != nil {
		s.logger.Error("failed to record managed chat", "chat", chat.ID, "err", err)
		return
	}
	s.seenChats.Add(chat.ID, true)
	if _, ok := s.health.Get(chat.ID); !ok {
		s.monitor.RefreshChat(ctx, models.ManagedChat{ChatID: chat.ID, Title: chat.Title, IsActive: true, HealthStatus: models.HealthUnknown})
	}
}

// Tracks the bot being added to or removed from a chat.
func (s *Server) handleMembership(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	chat := upd.Chat
	logger := s.logger.With("chat", chat.ID, "status", upd.NewChatMember.Status)
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return
	}

	switch upd.NewChatMember.Status {
	case "left", "kicked":
		logger.Info("bot removed from chat")
		membershipChanges.WithLabelValues("removed").Inc()
		if err := s.store.MarkChatInactive(ctx, chat.ID); err != nil {
			logger.Error("failed to mark chat inactive", "err", err)
		}
		s.health.Delete(chat.ID)
		s.seenChats.Remove(chat.ID)
	default:
		logger.Info("bot membership changed")
		membershipChanges.WithLabelValues("added").Inc()
		if err := s.store.UpsertChat(ctx, chat.ID, chat.Title, chat.Type); err != nil {
			logger.Error("failed to record managed chat", "err", err)
			return
		}
		s.seenChats.Add(chat.ID, true)
		// permissions may have changed along with membership
		s.monitor.RefreshChat(ctx, models.ManagedChat{ChatID: chat.ID, Title: chat.Title, IsActive: true, HealthStatus: models.HealthUnknown})
	}
}
