// Cross-chat enforcement: applies a ban, restriction or unban to a user in every managed chat the bot can act in.
//
// Enforcement is best-effort and not atomic. Each chat is attempted independently; a partial result (eg, 5 of 7 chats) is a valid outcome and is never rolled back.
package enforcement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/automod/jobs"
	"github.com/chatwarden/warden/models"

	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindBan      Kind = "ban"
	KindTempBan  Kind = "tempban"
	KindRestrict Kind = "restrict"
	KindUnban    Kind = "unban"
)

type Action struct {
	Kind Kind
	// for temporary bans and restrictions; zero means permanent
	Until  time.Time
	Reason string
}

// Bans and restrictions skip users who are admins anywhere. Unbanning an admin is harmless.
func (a Action) protectsAdmins() bool {
	return a.Kind != KindUnban
}

func (a Action) isBan() bool {
	return a.Kind == KindBan || a.Kind == KindTempBan
}

type Platform interface {
	BanChatMember(ctx context.Context, chatID, userID int64, until time.Time) error
	RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
}

type ChatRepository interface {
	ListActive(ctx context.Context) ([]models.ManagedChat, error)
}

type AdminRepository interface {
	ChatsWhereAdmin(ctx context.Context, userID int64) ([]int64, error)
}

type HealthChecker interface {
	CanEnforce(chatID int64) bool
}

type Scheduler interface {
	Schedule(ctx context.Context, name string, payload []byte, delay time.Duration) (string, error)
}

type Result struct {
	SuccessCount int
	FailedChats  []int64
	// chats skipped by the health gate
	SkippedChats []int64
	// user is an admin in some managed chat, so nothing was attempted
	AdminProtected bool
	CleanupJobID   string
}

func (r Result) FailureCount() int {
	return len(r.FailedChats)
}

type Executor struct {
	Chats    ChatRepository
	Admins   AdminRepository
	Health   HealthChecker
	Platform Platform
	Jobs     Scheduler
	Dedupe   *CleanupDeduper
	Logger   *slog.Logger

	// max platform calls in flight for a single enforcement
	Concurrency  int
	CleanupDelay time.Duration
}

func NewExecutor(chats ChatRepository, admins AdminRepository, health HealthChecker, platform Platform, sched Scheduler, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Chats:        chats,
		Admins:       admins,
		Health:       health,
		Platform:     platform,
		Jobs:         sched,
		Dedupe:       NewCleanupDeduper(DefaultDedupeWindow),
		Logger:       logger.With("component", "enforcement"),
		Concurrency:  4,
		CleanupDelay: 15 * time.Second,
	}
}

func (e *Executor) applyOne(ctx context.Context, chatID, userID int64, action Action) error {
	switch action.Kind {
	case KindBan, KindTempBan:
		return e.Platform.BanChatMember(ctx, chatID, userID, action.Until)
	case KindRestrict:
		return e.Platform.RestrictChatMember(ctx, chatID, userID, action.Until)
	case KindUnban:
		return e.Platform.UnbanChatMember(ctx, chatID, userID)
	default:
		return fmt.Errorf("unhandled enforcement action: %s", action.Kind)
	}
}

// Applies the action in every active, healthy managed chat.
//
// An error is returned only if the chat set could not be determined, or if the context was cancelled before all chats were attempted (in which case the partial Result is still returned). Per-chat failures are counted in the Result, not returned.
func (e *Executor) ApplyAcrossManagedChats(ctx context.Context, userID int64, action Action) (Result, error) {
	var res Result
	logger := e.Logger.With("user", userID, "action", action.Kind)

	chats, err := e.Chats.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("listing managed chats: %w", err)
	}

	if action.protectsAdmins() {
		adminIn, err := e.Admins.ChatsWhereAdmin(ctx, userID)
		if err != nil {
			return res, fmt.Errorf("checking admin status: %w", err)
		}
		if len(adminIn) > 0 {
			logger.Warn("skipping enforcement against chat admin", "admin_in", adminIn)
			enforcementSkips.WithLabelValues("admin").Inc()
			res.AdminProtected = true
			return res, nil
		}
	}

	targets := make([]int64, 0, len(chats))
	for _, c := range chats {
		if !c.IsActive {
			continue
		}
		if !e.Health.CanEnforce(c.ChatID) {
			logger.Info("skipping chat failing health gate", "chat", c.ChatID)
			enforcementSkips.WithLabelValues("health").Inc()
			res.SkippedChats = append(res.SkippedChats, c.ChatID)
			continue
		}
		targets = append(targets, c.ChatID)
	}

	limit := e.Concurrency
	if limit < 1 {
		limit = 1
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)
	for _, chatID := range targets {
		// in-flight calls are allowed to finish; only further launches stop
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// the context may have been cancelled while waiting for a slot
			if ctx.Err() != nil {
				return nil
			}
			err := e.applyOne(ctx, chatID, userID, action)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("enforcement failed in chat", "chat", chatID, "err", err)
				enforcementCalls.WithLabelValues(string(action.Kind), "error").Inc()
				res.FailedChats = append(res.FailedChats, chatID)
				return nil
			}
			enforcementCalls.WithLabelValues(string(action.Kind), "ok").Inc()
			res.SuccessCount++
			return nil
		})
	}
	// per-chat closures never return an error
	_ = g.Wait()

	logger.Info("enforcement applied", "succeeded", res.SuccessCount, "failed", len(res.FailedChats), "skipped", len(res.SkippedChats))

	if action.isBan() && res.SuccessCount > 0 {
		res.CleanupJobID = e.ScheduleCleanup(ctx, userID)
	}
	return res, ctx.Err()
}

// Schedules a delayed cross-chat cleanup of the user's recent messages, unless one was already scheduled within the dedupe window. Returns the job id, or an empty string if nothing was scheduled.
func (e *Executor) ScheduleCleanup(ctx context.Context, userID int64) string {
	if e.Jobs == nil {
		return ""
	}
	if e.Dedupe != nil && !e.Dedupe.ShouldSchedule(userID) {
		e.Logger.Info("cleanup already scheduled recently, skipping", "user", userID)
		cleanupJobs.WithLabelValues("deduped").Inc()
		return ""
	}
	payload, err := json.Marshal(jobs.CleanupPayload{UserID: userID})
	if err != nil {
		e.Logger.Error("encoding cleanup payload", "user", userID, "err", err)
		return ""
	}
	// the job outlives the request which triggered it
	jobID, err := e.Jobs.Schedule(context.WithoutCancel(ctx), jobs.CleanupJobName, payload, e.CleanupDelay)
	if err != nil {
		e.Logger.Error("failed to schedule cleanup job", "user", userID, "err", err)
		cleanupJobs.WithLabelValues("error").Inc()
		if e.Dedupe != nil {
			e.Dedupe.Forget(userID)
		}
		return ""
	}
	e.Logger.Info("scheduled cross-chat cleanup", "user", userID, "job", jobID, "delay", e.CleanupDelay)
	cleanupJobs.WithLabelValues("scheduled").Inc()
	return jobID
}
