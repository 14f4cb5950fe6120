package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	apiPkg "github.com/h1v3-io/fabsync/internal/api"
	"github.com/h1v3-io/fabsync/internal/config"
	"github.com/h1v3-io/fabsync/internal/inventory"
	"github.com/h1v3-io/fabsync/internal/jira"
	"github.com/h1v3-io/fabsync/internal/journal"
	"github.com/h1v3-io/fabsync/internal/logbuf"
	"github.com/h1v3-io/fabsync/internal/notify"
	"github.com/h1v3-io/fabsync/internal/reconcile"
	"github.com/h1v3-io/fabsync/internal/scheduler"
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to config JSON file (default: environment)")
	envFile := flag.String("env-file", "", "dotenv file to load before reading the environment (default: ./.env if present)")
	once := flag.Bool("once", false, "Run a single poll and exit")
	verbose := flag.BoolP("verbose", "v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("fabsyncd starting",
		"jira", cfg.Jira.Server,
		"inventory", cfg.Inventory.BaseURL,
		"schedule", cfg.Sync.Schedule,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Inventory client; the team id is needed for every box/tube.
	inv := inventory.New(cfg.Inventory.BaseURL, cfg.Inventory.APIKey,
		inventory.WithTimeout(time.Duration(cfg.Inventory.Timeout)*time.Second))
	teamCtx, teamCancel := context.WithTimeout(ctx, 30*time.Second)
	teamID, err := inv.TeamID(teamCtx)
	teamCancel()
	if err != nil {
		logger.Error("failed to fetch inventory team id", "error", err)
		os.Exit(1)
	}

	// 2. Jira client
	jiraOpts := []jira.Option{jira.WithLogger(logger.With("component", "jira"))}
	if cfg.Jira.JQL != "" {
		jiraOpts = append(jiraOpts, jira.WithJQL(cfg.Jira.JQL))
	}
	if f := cfg.Jira.Fields; f != nil {
		jiraOpts = append(jiraOpts, jira.WithFields(jira.Fields{
			Epic:      f.Epic,
			Quantity:  f.Quantity,
			Material:  f.Material,
			Thickness: f.Thickness,
		}))
	}
	src := jira.New(cfg.Jira.Server, cfg.Jira.Username, cfg.Jira.Password, jiraOpts...)

	// 3. Poll journal
	if err := os.MkdirAll(cfg.Sync.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Sync.DataDir, "error", err)
		os.Exit(1)
	}
	var retention time.Duration
	if cfg.Sync.JournalDays > 0 {
		retention = time.Duration(cfg.Sync.JournalDays) * 24 * time.Hour
	}
	dbPath := filepath.Join(cfg.Sync.DataDir, "fabsync.db")
	polls, err := journal.NewSQLiteStore(dbPath, retention)
	if err != nil {
		logger.Error("failed to open poll journal", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer polls.Close()

	// 4. Notifiers
	var notifiers notify.Multi
	if sc := cfg.Notify.Slack; sc != nil {
		n, err := notify.NewSlack(notify.SlackConfig{
			Token:   sc.Token,
			Channel: sc.Channel,
			APIURL:  sc.APIURL,
		}, logger.With("component", "slack"))
		if err != nil {
			logger.Error("failed to set up slack notifier", "error", err)
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if tc := cfg.Notify.Telegram; tc != nil {
		n, err := notify.NewTelegram(notify.TelegramConfig{
			Token:       tc.Token,
			ChatIDs:     tc.ChatIDs,
			APIEndpoint: tc.APIEndpoint,
		}, logger.With("component", "telegram"))
		if err != nil {
			logger.Error("failed to set up telegram notifier", "error", err)
		} else {
			notifiers = append(notifiers, n)
		}
	}

	if wc := cfg.Notify.Webhook; wc != nil {
		n, err := notify.NewWebhook(notify.WebhookConfig{
			URL:         wc.URL,
			Secret:      wc.Secret,
			BearerToken: wc.BearerToken,
		}, logger.With("component", "webhook"))
		if err != nil {
			logger.Error("failed to set up webhook notifier", "error", err)
		} else {
			notifiers = append(notifiers, n)
		}
	}

	// 5. Reconciler
	opts := []reconcile.Option{
		reconcile.WithLogger(logger.With("component", "reconcile")),
		reconcile.WithRecorder(polls),
		reconcile.WithAttachmentExt(cfg.Sync.AttachmentExt),
		reconcile.WithWipeThreshold(cfg.Sync.WipeThreshold),
	}
	if len(notifiers) > 0 {
		opts = append(opts, reconcile.WithNotifier(notifiers))
	}
	rec := reconcile.New(src, inv, teamID, opts...)
	logger.Info("reconciler ready", "team_id", teamID, "notifiers", len(notifiers))

	pollTimeout := time.Duration(cfg.Sync.PollTimeout) * time.Second

	if *once {
		pollCtx := ctx
		if pollTimeout > 0 {
			var pollCancel context.CancelFunc
			pollCtx, pollCancel = context.WithTimeout(ctx, pollTimeout)
			defer pollCancel()
		}
		_, err := rec.Poll(pollCtx)
		polls.Close()
		if err != nil {
			logger.Error("poll aborted", "error", err)
			os.Exit(2)
		}
		return
	}

	// 6. Scheduler
	sched := scheduler.New(func(ctx context.Context) error {
		_, err := rec.Poll(ctx)
		return err
	}, logger.With("component", "scheduler"), scheduler.WithTimeout(pollTimeout))
	if err := sched.SetSchedule(cfg.Sync.Schedule); err != nil {
		logger.Error("invalid schedule", "schedule", cfg.Sync.Schedule, "error", err)
		os.Exit(1)
	}

	// 7. Status API
	if cfg.API.Port > 0 {
		apiSrv := apiPkg.NewServer(daemonStatus{rec, sched}, polls, apiPkg.Config{
			Host: cfg.API.Host,
			Port: cfg.API.Port,
			Key:  cfg.API.Key,
		}, logger.With("component", "api"), logBuf)
		go safeGo(logger, "api-server", func() {
			if err := apiSrv.Start(ctx); err != nil {
				logger.Error("api server stopped", "error", err)
			}
		})
	}

	done := make(chan struct{})
	go safeGo(logger, "scheduler", func() {
		defer close(done)
		if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", "error", err)
		}
	})

	// 8. Graceful shutdown; an in-flight poll is allowed to finish.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	<-done
	logger.Info("fabsyncd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// daemonStatus implements api.StatusService.
type daemonStatus struct {
	rec   *reconcile.Reconciler
	sched *scheduler.Scheduler
}

func (d daemonStatus) Status() reconcile.Status { return d.rec.Status() }
func (d daemonStatus) Stats() scheduler.Stats   { return d.sched.Stats() }
