package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chatwarden/warden/automod/cachestore"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/countstore"
	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/automod/engine"
	"github.com/chatwarden/warden/automod/gate"
	"github.com/chatwarden/warden/automod/handlers"
	"github.com/chatwarden/warden/automod/health"
	"github.com/chatwarden/warden/automod/jobs"
	"github.com/chatwarden/warden/automod/notify"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/automod/platform"
	"github.com/chatwarden/warden/automod/router"
	"github.com/chatwarden/warden/automod/store"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	defaultHealthInterval = 5 * time.Minute
	defaultCleanupDelay   = 15 * time.Second
)

type Server struct {
	logger      *slog.Logger
	store       *store.Store
	config      *config.Service
	telegram    *platform.Telegram
	health      *health.Cache
	monitor     *health.Monitor
	jobs        *jobs.Scheduler
	orch        *orchestrator.Orchestrator
	engine      *engine.Engine
	parallelism int64
	inflight    *semaphore.Weighted
	// chats seen recently, so that not every message upserts its chat
	seenChats *expirable.LRU[int64, bool]
	api       *http.Server
}

type Config struct {
	DatabaseURL       string
	MaxDBConnections  int
	DBTracing         bool
	RedisURL          string
	TelegramToken     string
	TelegramRateLimit float64
	DetectionHost     string
	DetectionToken    string
	SlackWebhookURL   string
	AdminUserIDs      []int64
	AdminToken        string
	Bind              string
	HealthInterval    time.Duration
	CleanupDelay      time.Duration
	Parallelism       int
	AutoBanQuota      int
	Logger            *slog.Logger
}

func openStore(ctx context.Context, dburl string, maxConns int, dbTracing bool) (*store.Store, error) {
	db, err := store.SetupDatabase(dburl, maxConns)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbTracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return st, nil
}

func NewServer(ctx context.Context, conf Config) (*Server, error) {
	logger := conf.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	st, err := openStore(ctx, conf.DatabaseURL, conf.MaxDBConnections, conf.DBTracing)
	if err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	if conf.RedisURL != "" {
		cnt, err := countstore.NewRedisCountStore(conf.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(conf.RedisURL, 10*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %v", err)
		}
		cache = csh
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 10*time.Minute)
	}

	tg, err := platform.NewTelegram(platform.Config{
		Token:     conf.TelegramToken,
		RateLimit: conf.TelegramRateLimit,
	}, logger)
	if err != nil {
		return nil, err
	}

	var slack *notify.SlackNotifier
	if conf.SlackWebhookURL != "" {
		slack = notify.NewSlackNotifier(conf.SlackWebhookURL)
	}
	notifier := notify.NewService(tg, slack, conf.AdminUserIDs, logger)
	cfg := config.NewService(st, cache, logger)

	hc := health.NewCache()
	monitor := health.NewMonitor(hc, tg, st, conf.HealthInterval, logger)

	sched := jobs.NewScheduler(logger)
	sched.Register(jobs.CleanupJobName, jobs.NewCleanup(st, tg, logger).Run)

	exec := enforcement.NewExecutor(st, st, hc, tg, sched, logger)
	if conf.CleanupDelay > 0 {
		exec.CleanupDelay = conf.CleanupDelay
	}

	orch := orchestrator.New(logger)
	orch.Bans = handlers.NewBanHandler(st, exec, logger)
	orch.Warns = handlers.NewWarnHandler(st, logger)
	orch.Trusts = handlers.NewTrustHandler(st)
	orch.Restrictions = handlers.NewRestrictHandler(st, exec, tg, st, hc, logger)
	orch.Messages = handlers.NewMessageHandler(st, tg)
	orch.Training = handlers.NewTrainingHandler(st, logger)
	orch.Audit = st
	orch.Notifier = notifier
	orch.Config = cfg

	detector := detection.NewClient(conf.DetectionHost, conf.DetectionToken)
	g := gate.New(st, st, cfg, detector, logger)
	actions := router.NewActionService(orch, st, notifier, cfg, counters, logger)
	if conf.AutoBanQuota > 0 {
		actions.QuotaAutoBanDay = conf.AutoBanQuota
	}

	parallelism := int64(conf.Parallelism)
	if parallelism < 1 {
		parallelism = 1
	}

	s := &Server{
		logger:      logger,
		store:       st,
		config:      cfg,
		telegram:    tg,
		health:      hc,
		monitor:     monitor,
		jobs:        sched,
		orch:        orch,
		engine:      engine.NewEngine(st, g, actions, logger),
		parallelism: parallelism,
		inflight:    semaphore.NewWeighted(parallelism),
		seenChats:   expirable.NewLRU[int64, bool](10_000, nil, time.Hour),
	}

	if conf.AdminToken != "" {
		s.api = &http.Server{
			Handler:        s.newAPI(conf.AdminToken, prometheus.DefaultRegisterer),
			Addr:           conf.Bind,
			WriteTimeout:   time.Minute,
			ReadTimeout:    time.Minute,
			MaxHeaderBytes: 1 * (1024 * 1024),
		}
	} else {
		logger.Warn("admin token not configured, admin API disabled")
	}
	return s, nil
}

// Runs the update consumer, the health monitor, and the admin API until the context is cancelled, then drains in-flight work.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.telegram.Run(gctx, s.HandleUpdate)
	})
	g.Go(func() error {
		return s.monitor.Run(gctx)
	})
	if s.api != nil {
		g.Go(func() error {
			s.logger.Info("starting admin API", "bind", s.api.Addr)
			if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.api.Shutdown(ctx)
		})
	}

	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// in-flight messages hold the semaphore
	if err := s.inflight.Acquire(ctx, s.parallelism); err != nil {
		s.logger.Warn("timed out waiting for in-flight messages", "err", err)
	}
	s.orch.Wait()
	if err := s.jobs.Shutdown(ctx); err != nil {
		s.logger.Warn("background jobs did not finish", "err", err, "pending", s.jobs.Pending())
	}
	s.logger.Info("graceful shutdown complete")
}
