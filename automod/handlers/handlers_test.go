package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/health"
	"github.com/chatwarden/warden/automod/store"
	"github.com/chatwarden/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *store.Store
	platform *enforcement.MockPlatform
	health   *health.Cache
	executor *enforcement.Executor
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	db, err := store.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.Migrate(ctx))

	hc := health.NewCache()
	for _, id := range []int64{-1, -2, -3} {
		require.NoError(t, st.UpsertChat(ctx, id, "chat", "supergroup"))
		hc.Set(health.ChatHealth{ChatID: id, Status: models.HealthHealthy, IsAdmin: true, CanRestrict: true, CanDelete: true})
	}
	require.NoError(t, st.SetChatAdmins(ctx, -1, []models.ChatAdmin{{UserID: 7}}))

	p := enforcement.NewMockPlatform()
	// no scheduler: cleanup scheduling is covered in the enforcement package
	exec := enforcement.NewExecutor(st, st, hc, p, nil, nil)
	return &fixture{store: st, platform: p, health: hc, executor: exec}
}

var mod = actor.TelegramUser(7, "mod")

func TestBanHandler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewBanHandler(f.store, f.executor, nil)

	f.platform.FailChats[-3] = true
	out := h.Ban(ctx, BanRequest{UserID: 42, Actor: mod, Reason: "spam"})
	assert.True(out.Success)
	assert.Equal(2, out.ChatsAffected)
	assert.Equal(1, out.ChatsFailed)

	banned, err := f.store.IsBanned(ctx, 42)
	require.NoError(err)
	assert.True(banned)

	out = h.Unban(ctx, BanRequest{UserID: 42, Actor: mod, Reason: "appeal"})
	assert.True(out.Success)
	banned, err = f.store.IsBanned(ctx, 42)
	require.NoError(err)
	assert.False(banned)

	// admins are protected, and nothing is recorded
	out = h.Ban(ctx, BanRequest{UserID: 7, Actor: actor.AutoDetection, Reason: "spam"})
	assert.False(out.Success)
	assert.Contains(out.Error, "admin")
	banned, err = f.store.IsBanned(ctx, 7)
	require.NoError(err)
	assert.False(banned)

	out = h.Ban(ctx, BanRequest{UserID: 42, Actor: actor.Actor{}, Reason: "spam"})
	assert.False(out.Success)
}

func TestBanFailsEverywhere(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewBanHandler(f.store, f.executor, nil)

	f.platform.FailChats = map[int64]bool{-1: true, -2: true, -3: true}
	out := h.Ban(ctx, BanRequest{UserID: 42, Actor: mod, Reason: "spam"})
	assert.False(out.Success)
	assert.Equal(3, out.ChatsFailed)
	banned, err := f.store.IsBanned(ctx, 42)
	assert.NoError(err)
	assert.False(banned)
}

func TestBanWithNoEnforceableChats(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewBanHandler(f.store, f.executor, nil)

	for _, id := range []int64{-1, -2, -3} {
		f.health.Set(health.ChatHealth{ChatID: id, Status: models.HealthError, Error: "bot removed"})
	}
	out := h.Ban(ctx, BanRequest{UserID: 42, Actor: mod, Reason: "spam"})
	assert.False(out.Success)
	assert.Zero(out.ChatsAffected)
	assert.Contains(out.Error, "no enforceable chats")
	assert.Zero(f.platform.Calls())

	banned, err := f.store.IsBanned(ctx, 42)
	require.NoError(err)
	assert.False(banned)
}

func TestTempBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewBanHandler(f.store, f.executor, nil)

	until := time.Now().Add(time.Hour)
	out := h.TempBan(ctx, BanRequest{UserID: 42, Actor: mod, Reason: "cool off"}, until)
	assert.True(out.Success)
	assert.Len(f.platform.Bans, 3)
	assert.Equal(until, f.platform.Bans[0].Until)

	banned, err := f.store.IsBanned(ctx, 42)
	assert.NoError(err)
	assert.True(banned)

	out = h.TempBan(ctx, BanRequest{UserID: 42, Actor: mod}, time.Now().Add(-time.Minute))
	assert.False(out.Success)
}

func TestWarnHandler(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewWarnHandler(f.store, nil)

	for i := 1; i <= 3; i++ {
		out := h.Warn(ctx, WarnRequest{UserID: 42, ChatID: -1, Actor: mod, Reason: "rude", Expiry: 24 * time.Hour})
		assert.True(out.Success)
		assert.Equal(i, out.WarningCount)
	}
	// other users are counted separately
	out := h.Warn(ctx, WarnRequest{UserID: 43, ChatID: -1, Actor: mod, Reason: "rude"})
	assert.Equal(1, out.WarningCount)
}

func TestTrustHandler(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewTrustHandler(f.store)

	assert.True(h.Trust(ctx, 42, mod, "known member", nil).Success)
	trusted, _ := f.store.IsTrusted(ctx, 42)
	assert.True(trusted)

	assert.True(h.Untrust(ctx, 42, actor.AutoBan, "banned").Success)
	trusted, _ = f.store.IsTrusted(ctx, 42)
	assert.False(trusted)

	assert.False(h.Trust(ctx, 42, actor.Actor{Kind: actor.KindTelegramUser}, "", nil).Success)
}

func TestRestrictHandler(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewRestrictHandler(f.store, f.executor, f.platform, f.store, f.health, nil)

	out := h.Restrict(ctx, RestrictRequest{UserID: 42, ChatID: models.GlobalChatID, Actor: mod, Reason: "flood"})
	assert.True(out.Success)
	assert.Equal(3, out.ChatsAffected)

	out = h.Restrict(ctx, RestrictRequest{UserID: 43, ChatID: -2, Actor: mod, Reason: "flood", Until: time.Now().Add(time.Hour)})
	assert.True(out.Success)
	assert.Equal(1, out.ChatsAffected)
	assert.Len(f.platform.Restrictions, 4)

	// admin of that chat
	out = h.Restrict(ctx, RestrictRequest{UserID: 7, ChatID: -1, Actor: mod})
	assert.False(out.Success)

	// admin of another managed chat is protected as well
	out = h.Restrict(ctx, RestrictRequest{UserID: 7, ChatID: -2, Actor: mod})
	assert.False(out.Success)
	assert.Contains(out.Error, "admin")

	// unknown health
	out = h.Restrict(ctx, RestrictRequest{UserID: 43, ChatID: -9, Actor: mod})
	assert.False(out.Success)
	assert.Len(f.platform.Restrictions, 4)
}

func TestMessageHandler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewMessageHandler(f.store, f.platform)

	msg := event.Message{ChatID: -1, MessageID: 5, UserID: 42, Text: "cheap pills", SentAt: time.Now()}
	row, err := h.Ensure(ctx, msg)
	require.NoError(err)
	assert.Equal("cheap pills", row.Text)

	// already stored; event content is ignored
	msg.Text = "changed"
	row, err = h.Ensure(ctx, msg)
	require.NoError(err)
	assert.Equal("cheap pills", row.Text)

	out := h.Delete(ctx, -1, 5)
	assert.True(out.Success)
	stored, err := f.store.GetMessage(ctx, -1, 5)
	require.NoError(err)
	assert.NotNil(stored.RemovedAt)

	f.platform.FailChats[-2] = true
	out = h.Delete(ctx, -2, 6)
	assert.False(out.Success)
}

func TestTrainingHandler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	h := NewTrainingHandler(f.store, nil)

	added, err := h.AddSample(ctx, SampleRequest{Text: "Buy cheap crypto now! Limited offer, DM me today", IsSpam: true, Source: mod})
	require.NoError(err)
	assert.True(added)

	added, err = h.AddSample(ctx, SampleRequest{Text: "buy cheap CRYPTO now, limited offer. dm me today!!", IsSpam: true, Source: mod})
	require.NoError(err)
	assert.False(added)

	// same text with the other label is a separate corpus
	added, err = h.AddSample(ctx, SampleRequest{Text: "Buy cheap crypto now! Limited offer, DM me today", IsSpam: false, Source: mod})
	require.NoError(err)
	assert.True(added)

	added, err = h.AddSample(ctx, SampleRequest{Text: "   ", IsSpam: true, Source: mod})
	require.NoError(err)
	assert.False(added)
}
