package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chatwarden/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	perms  map[int64]BotPermissions
	admins map[int64][]models.ChatAdmin
}

func (p *fakeProber) BotPermissions(ctx context.Context, chatID int64) (BotPermissions, error) {
	perms, ok := p.perms[chatID]
	if !ok {
		return BotPermissions{}, errors.New("chat not found")
	}
	return perms, nil
}

func (p *fakeProber) ChatAdmins(ctx context.Context, chatID int64) ([]models.ChatAdmin, error) {
	return p.admins[chatID], nil
}

type fakeStore struct {
	mu     sync.Mutex
	chats  []models.ManagedChat
	health map[int64]models.HealthStatus
	admins map[int64][]models.ChatAdmin
}

func (s *fakeStore) ListActive(ctx context.Context) ([]models.ManagedChat, error) {
	return s.chats, nil
}

func (s *fakeStore) SetChatHealth(ctx context.Context, chatID int64, status models.HealthStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[chatID] = status
	return nil
}

func (s *fakeStore) SetChatAdmins(ctx context.Context, chatID int64, admins []models.ChatAdmin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[chatID] = admins
	return nil
}

func TestCacheMissingMeansNoEnforce(t *testing.T) {
	assert := assert.New(t)

	c := NewCache()
	assert.False(c.CanEnforce(-100))

	c.Set(ChatHealth{ChatID: -100, Status: models.HealthWarning, IsAdmin: true, CanRestrict: true})
	assert.True(c.CanEnforce(-100))

	c.Set(ChatHealth{ChatID: -200, Status: models.HealthError, IsAdmin: true})
	assert.False(c.CanEnforce(-200))

	c.Retain(map[int64]bool{-200: true})
	_, ok := c.Get(-100)
	assert.False(ok)
	assert.Len(c.Snapshot(), 1)
}

func TestMonitorRefresh(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	prober := &fakeProber{
		perms: map[int64]BotPermissions{
			-1: {IsAdmin: true, CanRestrict: true, CanDelete: true},
			-2: {IsAdmin: true, CanRestrict: true},
			-3: {IsAdmin: false},
		},
		admins: map[int64][]models.ChatAdmin{
			-1: {{UserID: 10, IsCreator: true}},
		},
	}
	st := &fakeStore{
		chats: []models.ManagedChat{
			{ChatID: -1, IsActive: true, HealthStatus: models.HealthUnknown},
			{ChatID: -2, IsActive: true, HealthStatus: models.HealthWarning},
			{ChatID: -3, IsActive: true, HealthStatus: models.HealthUnknown},
			{ChatID: -4, IsActive: true, HealthStatus: models.HealthUnknown},
		},
		health: map[int64]models.HealthStatus{},
		admins: map[int64][]models.ChatAdmin{},
	}
	cache := NewCache()
	cache.Set(ChatHealth{ChatID: -99, Status: models.HealthHealthy, IsAdmin: true, CanRestrict: true})

	m := NewMonitor(cache, prober, st, 0, nil)
	require.NoError(m.Refresh(ctx))

	assert.True(cache.CanEnforce(-1))
	assert.True(cache.CanEnforce(-2))
	assert.False(cache.CanEnforce(-3))
	assert.False(cache.CanEnforce(-4))
	// no longer active
	assert.False(cache.CanEnforce(-99))

	h, ok := cache.Get(-4)
	require.True(ok)
	assert.Equal(models.HealthError, h.Status)
	assert.Equal("chat not found", h.Error)

	assert.Equal(models.HealthHealthy, st.health[-1])
	assert.Equal(models.HealthError, st.health[-3])
	// unchanged status isn't re-written
	_, written := st.health[-2]
	assert.False(written)

	assert.Len(st.admins[-1], 1)
	_, fetched := st.admins[-4]
	assert.False(fetched)
}
