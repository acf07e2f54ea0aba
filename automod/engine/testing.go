package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/automod/cachestore"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/handlers"
	"github.com/chatwarden/warden/automod/health"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/automod/router"
	"github.com/chatwarden/warden/automod/store"
	"github.com/chatwarden/warden/models"
)

// Detection engine returning a fixed result, and counting calls.
type StaticDetector struct {
	mu     sync.Mutex
	Result *detection.ContentDetectionResult
	Calls  int
}

func (d *StaticDetector) Check(ctx context.Context, req detection.ContentCheckRequest) (*detection.ContentDetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Result == nil {
		return &detection.ContentDetectionResult{}, nil
	}
	return d.Result, nil
}

type ScheduledJob struct {
	ID      string
	Name    string
	Payload []byte
	Delay   time.Duration
}

// Scheduler which records jobs instead of running them.
type RecordingScheduler struct {
	mu   sync.Mutex
	Jobs []ScheduledJob
}

func (s *RecordingScheduler) Schedule(ctx context.Context, name string, payload []byte, delay time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(s.Jobs)+1)
	s.Jobs = append(s.Jobs, ScheduledJob{ID: id, Name: name, Payload: payload, Delay: delay})
	return id, nil
}

func (s *RecordingScheduler) Scheduled() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledJob(nil), s.Jobs...)
}

type UserNotice struct {
	UserID int64
	ChatID int64
	Text   string
}

// Notifier which records user messages and admin notices.
type NoticeRecorder struct {
	mu     sync.Mutex
	Users  []UserNotice
	Admins []notify.Notice
}

func (r *NoticeRecorder) NotifyUser(ctx context.Context, userID, chatID int64, text string) notify.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Users = append(r.Users, UserNotice{UserID: userID, ChatID: chatID, Text: text})
	return notify.DeliveryResult{Success: true, Method: notify.DeliveryDM}
}

func (r *NoticeRecorder) NotifyAdmins(ctx context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Admins = append(r.Admins, n)
	return nil
}

func (r *NoticeRecorder) AdminNotices() []notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notice(nil), r.Admins...)
}

// Fully wired pipeline over in-memory sqlite and a mock platform.
type TestFixture struct {
	Engine       *Engine
	Store        *store.Store
	Platform     *enforcement.MockPlatform
	Health       *health.Cache
	Detector     *StaticDetector
	Jobs         *RecordingScheduler
	Notices      *NoticeRecorder
	Orchestrator *orchestrator.Orchestrator
}

// Managed chats created by EngineTestFixture. The last one is active but unhealthy.
var FixtureChats = []int64{-1001, -1002, -1003}

func EngineTestFixture() *TestFixture {
	ctx := context.Background()
	logger := slog.Default()

	db, err := store.SetupDatabase("sqlite://:memory:", 1)
	if err != nil {
		panic(err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		panic(err)
	}

	hc := health.NewCache()
	for i, id := range FixtureChats {
		if err := st.UpsertChat(ctx, id, fmt.Sprintf("chat %d", i+1), "supergroup"); err != nil {
			panic(err)
		}
		h := health.ChatHealth{ChatID: id, Status: models.HealthHealthy, IsAdmin: true, CanRestrict: true, CanDelete: true, CheckedAt: time.Now()}
		if i == len(FixtureChats)-1 {
			h = health.ChatHealth{ChatID: id, Status: models.HealthError, CheckedAt: time.Now(), Error: "bot removed"}
		}
		hc.Set(h)
	}

	platform := enforcement.NewMockPlatform()
	jobs := &RecordingScheduler{}
	notices := &NoticeRecorder{}
	detector := &StaticDetector{}
	cfg := config.NewService(st, cachestore.NewMemCacheStore(100, time.Minute), logger)

	exec := enforcement.NewExecutor(st, st, hc, platform, jobs, logger)

	orch := orchestrator.New(logger)
	orch.Bans = handlers.NewBanHandler(st, exec, logger)
	orch.Warns = handlers.NewWarnHandler(st, logger)
	orch.Trusts = handlers.NewTrustHandler(st)
	orch.Restrictions = handlers.NewRestrictHandler(st, exec, platform, st, hc, logger)
	orch.Messages = handlers.NewMessageHandler(st, platform)
	orch.Training = handlers.NewTrainingHandler(st, logger)
	orch.Audit = st
	orch.Notifier = notices
	orch.Config = cfg

	g := gate.New(st, st, cfg, detector, logger)
	actions := router.NewActionService(orch, st, notices, cfg, countstore.NewMemCountStore(), logger)

	return &TestFixture{
		Engine:       NewEngine(st, g, actions, logger),
		Store:        st,
		Platform:     platform,
		Health:       hc,
		Detector:     detector,
		Jobs:         jobs,
		Notices:      notices,
		Orchestrator: orch,
	}
}
