package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/jobs"
	"github.com/chatwarden/warden/automod/store"
	"github.com/chatwarden/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confidentSpam() *detection.ContentDetectionResult {
	return &detection.ContentDetectionResult{
		IsSpam:        true,
		NetConfidence: 85,
		MaxConfidence: 90,
		CheckResults: []detection.CheckResult{
			{CheckName: detection.CheckOpenAI, Result: detection.Spam, Confidence: 90, Details: "crypto giveaway"},
			{CheckName: detection.CheckStopWords, Result: detection.Spam, Confidence: 60},
		},
	}
}

func spamMessage(userID, messageID int64) event.Message {
	return event.Message{
		ChatID:    FixtureChats[0],
		MessageID: messageID,
		UserID:    userID,
		UserName:  "spammer",
		Text:      "FREE crypto giveaway, DM me now",
		SentAt:    time.Now(),
	}
}

func actionTypes(recs []models.UserActionRecord) []models.ActionType {
	out := make([]models.ActionType, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ActionType)
	}
	return out
}

func TestConfidentSpamBansAcrossChats(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Detector.Result = confidentSpam()

	require.NoError(f.Engine.ProcessMessage(ctx, spamMessage(42, 100)))
	f.Orchestrator.Wait()

	// healthy chats only; the unhealthy chat is skipped
	banned := map[int64]bool{}
	for _, b := range f.Platform.Bans {
		assert.Equal(int64(42), b.UserID)
		banned[b.ChatID] = true
	}
	assert.Equal(map[int64]bool{FixtureChats[0]: true, FixtureChats[1]: true}, banned)
	assert.Contains(f.Platform.Deletes, enforcement.ChatMessage{ChatID: FixtureChats[0], MessageID: 100})

	recs, err := f.Store.ListActions(ctx, 42, 10)
	require.NoError(err)
	assert.ElementsMatch([]models.ActionType{models.ActionBan, models.ActionUntrust}, actionTypes(recs))
	for _, r := range recs {
		assert.Equal(actor.KindAutoDetection, r.IssuedBy.Kind)
	}
	trusted, err := f.Store.IsTrusted(ctx, 42)
	require.NoError(err)
	assert.False(trusted)

	audit, err := f.Store.ListAudit(ctx, 10)
	require.NoError(err)
	events := []string{}
	for _, a := range audit {
		events = append(events, a.EventType)
	}
	assert.Contains(events, "user_banned")

	notices := f.Notices.AdminNotices()
	require.NotEmpty(notices)
	titles := []string{}
	for _, n := range notices {
		titles = append(titles, n.Title)
	}
	assert.Contains(titles, "User banned")

	scheduled := f.Jobs.Scheduled()
	require.Len(scheduled, 1)
	assert.Equal(jobs.CleanupJobName, scheduled[0].Name)
	assert.Equal(15*time.Second, scheduled[0].Delay)
	var payload jobs.CleanupPayload
	require.NoError(json.Unmarshal(scheduled[0].Payload, &payload))
	assert.Equal(int64(42), payload.UserID)

	reports, err := f.Store.ListReports(ctx, models.ReportResolved, 10)
	require.NoError(err)
	require.Len(reports, 1)
	assert.Equal(int64(42), reports[0].UserID)
	assert.Equal(85, reports[0].NetConfidence)

	// a second spam message right away bans again but does not schedule another cleanup
	require.NoError(f.Engine.ProcessMessage(ctx, spamMessage(42, 101)))
	f.Orchestrator.Wait()
	assert.Len(f.Jobs.Scheduled(), 1)
}

func TestAdminProtectedFromAutoBan(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Detector.Result = confidentSpam()
	require.NoError(f.Store.SetChatAdmins(ctx, FixtureChats[1], []models.ChatAdmin{{UserID: 7}}))

	// admin elsewhere, so detection runs in full for this chat
	require.NoError(f.Engine.ProcessMessage(ctx, spamMessage(7, 200)))
	f.Orchestrator.Wait()

	assert.Equal(1, f.Detector.Calls)
	assert.Empty(f.Platform.Bans)
	assert.Empty(f.Jobs.Scheduled())

	banned, err := f.Store.IsBanned(ctx, 7)
	require.NoError(err)
	assert.False(banned)

	pending, err := f.Store.ListReports(ctx, models.ReportPending, 10)
	require.NoError(err)
	assert.Len(pending, 1)
}

func TestTrustedUserOnlyCriticalChecks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Detector.Result = confidentSpam()
	res := f.Orchestrator.Trust(ctx, 55, actor.System("test"), "long-time member", nil)
	require.True(res.Success)

	// default config always runs the blocklist and file scanner, neither of which fired
	require.NoError(f.Engine.ProcessMessage(ctx, spamMessage(55, 300)))
	f.Orchestrator.Wait()
	assert.Equal(1, f.Detector.Calls)
	assert.Zero(f.Platform.Calls())

	// a blocklisted URL cannot be bypassed by trust
	f.Detector.Result = &detection.ContentDetectionResult{
		IsSpam:        true,
		NetConfidence: 100,
		MaxConfidence: 100,
		CheckResults: []detection.CheckResult{
			{CheckName: detection.CheckURLBlocklist, Result: detection.Spam, Confidence: 100, Details: "evil.example"},
		},
	}
	require.NoError(f.Engine.ProcessMessage(ctx, spamMessage(55, 301)))
	f.Orchestrator.Wait()
	assert.NotEmpty(f.Platform.Bans)

	trusted, err := f.Store.IsTrusted(ctx, 55)
	require.NoError(err)
	assert.False(trusted)
}

func TestSystemAccountUntouched(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Detector.Result = confidentSpam()
	msg := spamMessage(777000, 400)

	assert.NoError(f.Engine.ProcessMessage(ctx, msg))
	assert.Zero(f.Detector.Calls)
	assert.Zero(f.Platform.Calls())

	_, err := f.Store.GetMessage(ctx, msg.ChatID, msg.MessageID)
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestMediaOnlyMessageRecorded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	msg := event.Message{ChatID: FixtureChats[0], MessageID: 500, UserID: 42, HasMedia: true, SentAt: time.Now()}

	require.NoError(f.Engine.ProcessMessage(ctx, msg))
	assert.Zero(f.Detector.Calls)

	row, err := f.Store.GetMessage(ctx, msg.ChatID, msg.MessageID)
	require.NoError(err)
	assert.Equal(int64(42), row.UserID)
}

func TestCleanMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Detector.Result = &detection.ContentDetectionResult{
		NetConfidence: -40,
		CheckResults: []detection.CheckResult{
			{CheckName: detection.CheckOpenAI, Result: detection.Ham, Confidence: 95},
		},
	}
	assert.NoError(f.Engine.ProcessMessage(ctx, spamMessage(42, 600)))
	assert.Equal(1, f.Detector.Calls)
	assert.Zero(f.Platform.Calls())
}

type panicGate struct{}

func (panicGate) Evaluate(ctx context.Context, req detection.ContentCheckRequest) (*gate.Result, error) {
	panic("boom")
}

func TestPanicRecovered(t *testing.T) {
	assert := assert.New(t)

	eng := NewEngine(nil, panicGate{}, nil, nil)
	err := eng.ProcessMessage(context.Background(), spamMessage(42, 700))
	assert.Error(err)
	assert.Contains(err.Error(), "boom")
}
