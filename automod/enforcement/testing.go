package enforcement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// In-memory platform which records every call. Used in tests across packages.
type MockPlatform struct {
	mu sync.Mutex

	Bans         []ChatUser
	Restrictions []ChatUser
	Unbans       []ChatUser
	Deletes      []ChatMessage
	// chats in which every call fails
	FailChats map[int64]bool
}

type ChatUser struct {
	ChatID int64
	UserID int64
	Until  time.Time
}

type ChatMessage struct {
	ChatID    int64
	MessageID int64
}

var errMockChat = errors.New("mock platform: chat unavailable")

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{FailChats: map[int64]bool{}}
}

func (p *MockPlatform) BanChatMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailChats[chatID] {
		return errMockChat
	}
	p.Bans = append(p.Bans, ChatUser{ChatID: chatID, UserID: userID, Until: until})
	return nil
}

func (p *MockPlatform) RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailChats[chatID] {
		return errMockChat
	}
	p.Restrictions = append(p.Restrictions, ChatUser{ChatID: chatID, UserID: userID, Until: until})
	return nil
}

func (p *MockPlatform) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailChats[chatID] {
		return errMockChat
	}
	p.Unbans = append(p.Unbans, ChatUser{ChatID: chatID, UserID: userID})
	return nil
}

func (p *MockPlatform) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailChats[chatID] {
		return errMockChat
	}
	p.Deletes = append(p.Deletes, ChatMessage{ChatID: chatID, MessageID: messageID})
	return nil
}

// Total number of calls made.
func (p *MockPlatform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Bans) + len(p.Restrictions) + len(p.Unbans) + len(p.Deletes)
}
