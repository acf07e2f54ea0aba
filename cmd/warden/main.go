package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chatwarden/warden/pkg/metrics"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"WARDEN_MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"WARDEN_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for shared cache and counters; in-process stores are used if not set",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "telegram-token",
			Usage:   "Bot API token; with no token the daemon runs in dry mode",
			EnvVars: []string{"WARDEN_TELEGRAM_TOKEN"},
		},
		&cli.Float64Flag{
			Name:    "telegram-rate-limit",
			Usage:   "max outbound Bot API calls per second",
			Value:   25,
			EnvVars: []string{"WARDEN_TELEGRAM_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "detection-host",
			Usage:   "method, hostname, and port of the content detection service",
			Value:   "http://localhost:8090",
			EnvVars: []string{"WARDEN_DETECTION_HOST"},
		},
		&cli.StringFlag{
			Name:    "detection-token",
			Usage:   "bearer token for the content detection service",
			EnvVars: []string{"WARDEN_DETECTION_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for admin notices",
			EnvVars: []string{"WARDEN_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.Int64SliceFlag{
			Name:    "admin-user-ids",
			Usage:   "platform user ids which receive admin notices by direct message",
			EnvVars: []string{"WARDEN_ADMIN_USER_IDS"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin API; the API is disabled if not set",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "health-interval",
			Usage:   "how often to re-check bot permissions in every managed chat",
			Value:   defaultHealthInterval,
			EnvVars: []string{"WARDEN_HEALTH_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "cleanup-delay",
			Usage:   "delay before deleting a banned user's recent messages across chats",
			Value:   defaultCleanupDelay,
			EnvVars: []string{"WARDEN_CLEANUP_DELAY"},
		},
		&cli.IntFlag{
			Name:    "message-parallelism",
			Usage:   "max messages processed concurrently",
			Value:   16,
			EnvVars: []string{"WARDEN_MESSAGE_PARALLELISM"},
		},
		&cli.IntFlag{
			Name:    "auto-ban-quota",
			Usage:   "max automated bans per day before decisions are downgraded to review",
			Value:   200,
			EnvVars: []string{"WARDEN_AUTO_BAN_QUOTA"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTEL := configOTEL("warden")
		defer shutdownOTEL()

		srv, err := NewServer(ctx, Config{
			DatabaseURL:       cctx.String("database-url"),
			MaxDBConnections:  cctx.Int("max-db-connections"),
			DBTracing:         cctx.Bool("db-tracing"),
			RedisURL:          cctx.String("redis-url"),
			TelegramToken:     cctx.String("telegram-token"),
			TelegramRateLimit: cctx.Float64("telegram-rate-limit"),
			DetectionHost:     cctx.String("detection-host"),
			DetectionToken:    cctx.String("detection-token"),
			SlackWebhookURL:   cctx.String("slack-webhook-url"),
			AdminUserIDs:      cctx.Int64Slice("admin-user-ids"),
			AdminToken:        cctx.String("admin-token"),
			Bind:              cctx.String("bind"),
			HealthInterval:    cctx.Duration("health-interval"),
			CleanupDelay:      cctx.Duration("cleanup-delay"),
			Parallelism:       cctx.Int("message-parallelism"),
			AutoBanQuota:      cctx.Int("auto-ban-quota"),
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := metrics.RunServer(ctx, cctx.String("metrics-listen"), logger); err != nil {
				logger.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables, then exit",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"WARDEN_DATABASE_URL", "DATABASE_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx)
		st, err := openStore(cctx.Context, cctx.String("database-url"), cctx.Int("max-db-connections"), false)
		if err != nil {
			return err
		}
		logger.Info("database migrated")
		return st.Ping(cctx.Context)
	},
}
