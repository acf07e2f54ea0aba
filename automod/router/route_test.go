package router

import (
	"context"
	"errors"
	"testing"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func check(name string, c detection.Classification, conf int) detection.CheckResult {
	return detection.CheckResult{CheckName: name, Result: c, Confidence: conf}
}

func result(net int, checks ...detection.CheckResult) *detection.ContentDetectionResult {
	return &detection.ContentDetectionResult{IsSpam: net > 0, NetConfidence: net, MaxConfidence: 90, CheckResults: checks}
}

func TestRoute(t *testing.T) {
	assert := assert.New(t)
	th := config.Default().Detection

	cases := []struct {
		name   string
		res    *detection.ContentDetectionResult
		kind   Kind
		reason string
	}{
		{"nil result", nil, KindNone, ""},
		{"no checks", &detection.ContentDetectionResult{}, KindNone, ""},
		{"ham", result(-40, check("OpenAI", detection.Ham, 95)), KindNone, ""},
		{"hard block ignores confidence", result(-100, check("urlBlockList", detection.Spam, 0)), KindHardBlock, "policy violation"},
		{"hard block beats malware", result(0, check("FileScanning", detection.Malware, 100), check("UrlBlocklist", detection.Spam, 100)), KindHardBlock, "blocklisted URL"},
		{"malware", result(90, check("FileScanning", detection.Malware, 100), check("OpenAI", detection.Spam, 99)), KindMalware, "FileScanning"},
		{"ai veto", result(90, check("OpenAI", detection.Review, 99)), KindReview, "requested review"},
		{"confident spam", result(85, check("OpenAI", detection.Spam, 90)), KindAutoBan, "confident spam"},
		{"net exactly at ban threshold", result(50, check("OpenAI", detection.Spam, 90)), KindReview, "borderline"},
		{"ai not confident", result(85, check("OpenAI", detection.Spam, 84)), KindReview, "AI uncertain"},
		{"ai says ham", result(85, check("OpenAI", detection.Ham, 95)), KindReview, "AI uncertain"},
		{"no ai check", result(85, check("Bayes", detection.Spam, 99)), KindReview, "AI uncertain"},
		{"borderline", result(20, check("OpenAI", detection.Spam, 99)), KindReview, "borderline net confidence"},
		{"net exactly at review threshold", result(0, check("Bayes", detection.Spam, 50)), KindNone, ""},
	}
	for _, c := range cases {
		d := Route(c.res, th)
		assert.Equal(c.kind, d.Kind, c.name)
		if c.reason != "" {
			assert.Contains(d.Reason, c.reason, c.name)
		}
	}
}

func TestRouteCustomThresholds(t *testing.T) {
	assert := assert.New(t)
	th := config.DetectionThresholds{AutoBanThreshold: 90, ReviewThreshold: 30, ConfidentThreshold: 95}

	assert.Equal(KindReview, Route(result(85, check("OpenAI", detection.Spam, 90)), th).Kind)
	assert.Equal(KindNone, Route(result(20, check("OpenAI", detection.Spam, 90)), th).Kind)
	assert.Equal(KindAutoBan, Route(result(95, check("OpenAI", detection.Spam, 96)), th).Kind)
}

type fakeModerator struct {
	banFail    bool
	banNoChats bool
	deleteFail bool
	bans       []orchestrator.BanRequest
	deletes    []actor.Actor
}

func (m *fakeModerator) Ban(ctx context.Context, req orchestrator.BanRequest) orchestrator.BanResult {
	m.bans = append(m.bans, req)
	if m.banFail {
		return orchestrator.BanResult{ActionResult: orchestrator.ActionResult{ErrorMessage: "enforcement failed in every chat"}}
	}
	if m.banNoChats {
		return orchestrator.BanResult{ActionResult: orchestrator.ActionResult{Success: true}}
	}
	return orchestrator.BanResult{ActionResult: orchestrator.ActionResult{Success: true, ChatsAffected: 2}, TrustRemoved: true}
}

func (m *fakeModerator) DeleteMessage(ctx context.Context, chatID, messageID int64, who actor.Actor, reason string) orchestrator.DeleteResult {
	m.deletes = append(m.deletes, who)
	if m.deleteFail {
		return orchestrator.DeleteResult{ActionResult: orchestrator.ActionResult{ErrorMessage: "gone"}}
	}
	return orchestrator.DeleteResult{ActionResult: orchestrator.ActionResult{Success: true, ChatsAffected: 1}}
}

type fakeReports struct {
	err     error
	reports []models.DetectionReport
}

func (f *fakeReports) CreateReport(ctx context.Context, r *models.DetectionReport) error {
	if f.err != nil {
		return f.err
	}
	r.ID = uint64(len(f.reports) + 1)
	f.reports = append(f.reports, *r)
	return nil
}

type fakeNotifier struct {
	notices []notify.Notice
}

func (f *fakeNotifier) NotifyAdmins(ctx context.Context, n notify.Notice) error {
	f.notices = append(f.notices, n)
	return nil
}

type defaultThresholds struct{}

func (defaultThresholds) DetectionThresholds(ctx context.Context, chatID int64) config.DetectionThresholds {
	return config.Default().Detection
}

type fixture struct {
	svc      *ActionService
	mod      *fakeModerator
	reports  *fakeReports
	notifier *fakeNotifier
	counters *countstore.MemCountStore
}

func newFixture() *fixture {
	f := &fixture{
		mod:      &fakeModerator{},
		reports:  &fakeReports{},
		notifier: &fakeNotifier{},
		counters: countstore.NewMemCountStore(),
	}
	f.svc = NewActionService(f.mod, f.reports, f.notifier, defaultThresholds{}, f.counters, nil)
	return f
}

var msg = event.Message{ChatID: -100, MessageID: 5, UserID: 42, UserName: "spammer", Text: "buy now"}

func TestHandleConfidentSpam(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()

	gr := &gate.Result{SpamResult: result(85, check("OpenAI", detection.Spam, 90))}
	out, err := f.svc.Handle(ctx, msg, gr)
	require.NoError(err)
	assert.Equal(KindAutoBan, out.Decision.Kind)
	assert.True(out.Banned)
	assert.True(out.MessageDeleted)

	require.Len(f.mod.bans, 1)
	assert.Equal(actor.AutoDetection, f.mod.bans[0].Actor)
	assert.Equal(int64(5), *f.mod.bans[0].MessageID)

	require.Len(f.reports.reports, 1)
	r := f.reports.reports[0]
	assert.Equal(models.ReportResolved, r.Status)
	assert.Equal(85, r.NetConfidence)
	assert.Equal(90, r.MaxConfidence)
	assert.Contains(r.Details, "OpenAI")

	c, err := f.counters.GetCount(ctx, counterAutoBan, "global", countstore.PeriodDay)
	require.NoError(err)
	assert.Equal(1, c)
}

func TestHandleBanFailureLeavesPendingReport(t *testing.T) {
	assert := assert.New(t)
	f := newFixture()
	f.mod.banFail = true
	f.mod.deleteFail = true

	gr := &gate.Result{SpamResult: result(0, check("UrlBlocklist", detection.Spam, 100))}
	out, err := f.svc.Handle(context.Background(), msg, gr)
	assert.NoError(err)
	assert.Equal(KindHardBlock, out.Decision.Kind)
	assert.False(out.Banned)
	assert.False(out.MessageDeleted)
	assert.Equal(models.ReportPending, f.reports.reports[0].Status)
}

func TestHandleBanReachingNoChatsLeavesPendingReport(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture()
	f.mod.banNoChats = true

	gr := &gate.Result{SpamResult: result(85, check("OpenAI", detection.Spam, 90))}
	out, err := f.svc.Handle(context.Background(), msg, gr)
	require.NoError(err)
	assert.Equal(KindAutoBan, out.Decision.Kind)
	require.Len(f.reports.reports, 1)
	assert.Equal(models.ReportPending, f.reports.reports[0].Status)
}

func TestHandleMalware(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture()

	gr := &gate.Result{SpamResult: result(10, check("FileScanning", detection.Malware, 100))}
	out, err := f.svc.Handle(context.Background(), msg, gr)
	require.NoError(err)
	assert.Equal(KindMalware, out.Decision.Kind)
	assert.True(out.MessageDeleted)
	assert.False(out.Banned)
	assert.Empty(f.mod.bans)
	assert.Equal([]actor.Actor{actor.FileScanner}, f.mod.deletes)
	require.Len(f.notifier.notices, 1)
	assert.Equal("Malware removed", f.notifier.notices[0].Title)
	assert.Equal(models.ReportPending, f.reports.reports[0].Status)
}

func TestHandleReview(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture()

	gr := &gate.Result{SpamResult: result(30, check("OpenAI", detection.Spam, 60))}
	out, err := f.svc.Handle(context.Background(), msg, gr)
	require.NoError(err)
	assert.Equal(KindReview, out.Decision.Kind)
	assert.Equal(uint64(1), out.ReportID)
	assert.Empty(f.mod.bans)
	assert.Empty(f.mod.deletes)
	require.Len(f.notifier.notices, 1)
	assert.Contains(f.notifier.notices[0].Lines[0], "#1")

	f.reports.err = errors.New("db down")
	_, err = f.svc.Handle(context.Background(), msg, gr)
	assert.Error(err)
}

func TestHandlePrivilegedNeverAutoBanned(t *testing.T) {
	assert := assert.New(t)
	f := newFixture()

	gr := &gate.Result{
		IsUserTrusted:           true,
		SpamResult:              result(85, check("UrlBlocklist", detection.Review, 40), check("OpenAI", detection.Spam, 90)),
		CriticalCheckViolations: []string{"UrlBlocklist: review (confidence 40)"},
	}
	out, err := f.svc.Handle(context.Background(), msg, gr)
	assert.NoError(err)
	assert.Equal(KindReview, out.Decision.Kind)
	assert.Contains(out.Decision.Reason, "privileged user")
	assert.Empty(f.mod.bans)
	assert.Contains(f.reports.reports[0].Details, "critical: UrlBlocklist")
}

func TestHandleCircuitBreaker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.svc.QuotaAutoBanDay = 2

	gr := &gate.Result{SpamResult: result(85, check("OpenAI", detection.Spam, 90))}
	for i := 0; i < 2; i++ {
		out, err := f.svc.Handle(ctx, msg, gr)
		assert.NoError(err)
		assert.True(out.Banned)
	}
	out, err := f.svc.Handle(ctx, msg, gr)
	assert.NoError(err)
	assert.Equal(KindReview, out.Decision.Kind)
	assert.Contains(out.Decision.Reason, "circuit breaker")
	assert.Len(f.mod.bans, 2)
}

func TestHandleNone(t *testing.T) {
	assert := assert.New(t)
	f := newFixture()

	out, err := f.svc.Handle(context.Background(), msg, &gate.Result{SpamResult: result(-20)})
	assert.NoError(err)
	assert.Equal(KindNone, out.Decision.Kind)
	assert.Empty(f.reports.reports)
	assert.Empty(f.notifier.notices)
}
