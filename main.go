// Command danmaku-reactor is a live-room bot. It:
//   - Loads configuration from the environment (seeded by ENV_FILE) and
//     initializes structured logging.
//   - Connects to the configured bilibili room or Twitch channel and reacts
//     to chat, entries, gifts and stream transitions.
//   - Runs the daily rollover and scheduled notices, an optional operator
//     console, and an HTTP server with /healthz, /status, /metrics and admin routes.
//   - Optionally journals events to Postgres.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/onnwee/danmaku-reactor/config"
	"github.com/onnwee/danmaku-reactor/console"
	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/db"
	"github.com/onnwee/danmaku-reactor/dispatch"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/schedule"
	"github.com/onnwee/danmaku-reactor/server"
	"github.com/onnwee/danmaku-reactor/session"
	"github.com/onnwee/danmaku-reactor/telemetry"
	"github.com/onnwee/danmaku-reactor/turing"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

func run() int {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.LoadFile(envFile)
	// Logging reads LOG_LEVEL/LOG_FORMAT, which the .env file may set.
	setupLogging()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.Tracing{
		Service:     "danmaku-reactor",
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTLPSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdownTracing()

	r, err := openRoom(ctx, cfg)
	if err != nil {
		slog.Error("failed to open room", slog.String("platform", cfg.Platform), slog.Any("err", err))
		return 1
	}

	var (
		recorder danmaku.Recorder
		eventLog server.EventLog
		deps     dispatch.Deps
	)
	if cfg.JournalEnable {
		database, err := openJournalDB(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open journal database", slog.Any("err", err))
			return 1
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		journal := db.NewJournal(database, r.id)
		recorder, eventLog, deps.Journal = journal, journal, journal
	}

	if len(cfg.Turing.APIKeys) > 0 {
		gw, err := turing.New(turing.Config{
			APIURL:        cfg.Turing.APIURL,
			Keys:          cfg.Turing.APIKeys,
			RequestFormat: cfg.Turing.RequestFormat,
			Enabled:       cfg.Turing.Enable,
			Timeout:       cfg.Turing.Timeout,
		})
		if err != nil {
			slog.Error("turing gateway setup failed", slog.Any("err", err))
			return 1
		}
		deps.AI = gw
		slog.Info("turing gateway ready", slog.Int("keys", len(cfg.Turing.APIKeys)), slog.Bool("enabled", cfg.Turing.Enable))
	}

	deps.Sender = danmaku.NewSender(r.poster, danmaku.Options{
		Enabled:     cfg.Danmaku.Enable,
		MinInterval: cfg.Danmaku.MinInterval,
		Templates:   templates(cfg),
		Recorder:    recorder,
	})
	deps.State = session.New(cfg.Danmaku.OnlyWelcomeOnce)
	deps.State.SetStreaming(r.live)
	deps.Roster = r.roster
	deps.Profiles = r.profiles

	d, err := dispatch.New(deps, dispatchOptions(cfg, r.id))
	if err != nil {
		slog.Error("dispatcher setup failed", slog.Any("err", err))
		return 1
	}
	if err := d.RefreshRoster(ctx); err != nil && !errors.Is(err, dispatch.ErrNoCollaborator) {
		slog.Warn("initial guard roster load failed", slog.Any("err", err))
	}

	daily, err := schedule.NewCron("daily_rollover", cfg.DailyCron, d.DailyRollover)
	if err != nil {
		slog.Error("invalid DAILY_CRON", slog.Any("err", err))
		return 1
	}

	reload := func(ctx context.Context) error {
		next, err := config.LoadFile(envFile)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		d.ApplyConfig(runtimeConfig(next, r.id))
		return nil
	}

	var wg sync.WaitGroup
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	q := dispatch.NewQueue(dispatch.DefaultQueueSize)
	start(func() {
		if err := d.Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher stopped", slog.Any("err", err))
		}
	})
	start(func() { daily.Run(ctx) })
	notices := &schedule.Interval{Name: "scheduled_notice", Every: cfg.Danmaku.ScheduledInterval, Job: d.ScheduledNotice}
	start(func() { notices.Run(ctx) })

	handlers := server.NewHandlers(d, eventLog, reload)
	mux := server.NewMux(ctx, handlers, server.Options{
		AdminToken:     cfg.AdminToken,
		AdminUsername:  cfg.AdminUsername,
		AdminPassword:  cfg.AdminPassword,
		RateLimit:      cfg.AdminRateLimit,
		AllowedOrigins: cfg.CORSOrigins,
	})
	start(func() {
		if err := server.Start(ctx, cfg.HTTPAddr, mux, nil); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	})

	if cfg.ConsoleEnable {
		c, err := console.New(reload, func(ctx context.Context, text string) { d.Say(ctx, text) })
		if err != nil {
			slog.Warn("console unavailable", slog.Any("err", err))
		} else {
			start(func() {
				c.Run(ctx)
				if ctx.Err() == nil {
					slog.Info("console closed; shutting down")
					stop()
				}
			})
		}
	}

	exitCode := 0
	slog.Info("connecting to room", slog.String("platform", cfg.Platform), slog.Int64("room_id", r.id))
	if err := r.source.Run(ctx, q.Push); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, event.ErrFatalConnection) {
			slog.Error("room connection lost for good", slog.Any("err", err))
			exitCode = 1
		} else {
			slog.Error("room source stopped", slog.Any("err", err))
		}
	}

	stop()
	q.Close()
	wg.Wait()
	slog.Info("shut down")
	return exitCode
}

func openJournalDB(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}
