package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"attendance-bot/internal/auth"
	"attendance-bot/internal/config"
	"attendance-bot/internal/http-server/handlers/health"
	pendingGet "attendance-bot/internal/http-server/handlers/pending/get"
	slackEvents "attendance-bot/internal/http-server/handlers/slack/events"
	slackInteractions "attendance-bot/internal/http-server/handlers/slack/interactions"
	"attendance-bot/internal/ledger"
	"attendance-bot/internal/lock"
	"attendance-bot/internal/messenger"
	"attendance-bot/internal/notify"
	"attendance-bot/internal/parser"
	"attendance-bot/internal/queue"
	svc "attendance-bot/internal/service"
	"attendance-bot/internal/signature"
	"attendance-bot/internal/storage/postgres"
	"attendance-bot/internal/sweeper"
	"attendance-bot/pkg/handlers/slogpretty"
	"attendance-bot/pkg/middleware/mwLogger"
	"attendance-bot/pkg/middleware/mwSignature"
	"attendance-bot/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const queueBackendRedis = "redis"

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting attendance bot", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	ctx := context.Background()

	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	if err := storage.Migrate(ctx); err != nil {
		log.Error("Failed to migrate storage", sl.Err(err))
		os.Exit(1)
	}

	var (
		redisClient *redis.Client
		locker      lock.Locker
	)

	redisClient, err = lock.NewRedisClient(ctx, cfg.RedisAddr)
	switch {
	case err == nil:
		locker = lock.NewRedisLock(redisClient)
	case cfg.Queue.Backend == queueBackendRedis:
		log.Error("Failed to connect to redis", sl.Err(err))
		os.Exit(1)
	default:
		log.Warn("Redis unavailable, using in-process locks", sl.Err(err))
		locker = lock.NewMemoryLock()
	}

	var tasks queue.Queue
	if cfg.Queue.Backend == queueBackendRedis {
		tasks = queue.NewRedisQueue(redisClient, cfg.Queue.Key)
	} else {
		tasks = queue.NewMemoryQueue(0)
	}

	authorizers := auth.AnyOf{auth.NewAllowList(cfg.Auth.AllowedReporters)}
	if cfg.Auth.RoleLookup {
		authorizers = append(authorizers, auth.NewRoleLookup(log, storage))
	}

	completer := parser.NewAnthropicCompleter(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	if cfg.LLM.APIKey == "" {
		log.Warn("LLM api key is not set, every report will fail to parse")
	}

	var backend ledger.Backend
	if !cfg.Ledger.DryRun {
		sheets, err := ledger.NewSheetsBackend(ctx, cfg.Ledger.CredentialsFile, cfg.Ledger.SpreadsheetID, cfg.Ledger.AbsenceSheet, cfg.Ledger.EventsSheet)
		if err != nil {
			log.Error("Failed to init sheets backend", sl.Err(err))
			os.Exit(1)
		}
		backend = sheets
	} else {
		log.Warn("Ledger is in dry-run mode, nothing will be written")
	}

	var msgr messenger.Messenger
	if cfg.Slack.BotToken != "" {
		msgr = messenger.NewSlackMessenger(cfg.Slack.BotToken)
	} else {
		log.Warn("Bot token is not set, messages go to the log")
		msgr = messenger.NewLogMessenger(log)
	}

	service := svc.NewService(log, svc.Deps{
		Store:      storage,
		Directory:  storage,
		Authorizer: authorizers,
		Parser:     parser.NewAIParser(log, completer, cfg.Location()),
		Ledger:     ledger.New(log, backend, cfg.Ledger.DryRun),
		Messenger:  msgr,
		Notifier:   notify.New(log, msgr, cfg.Slack.DigestChannel),
		Locker:     locker,
	}, svc.Options{
		ExpiryWindow: cfg.Workflow.ExpiryWindow,
		UndoWindow:   cfg.Workflow.UndoWindow,
		ParseTimeout: cfg.Workflow.ParseTimeout,
		WriteTimeout: cfg.Workflow.WriteTimeout,
	})

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	pool := queue.NewPool(log, tasks, cfg.Queue.Workers, func(ctx context.Context, t queue.Task) {
		if err := service.Process(ctx, t); err != nil {
			log.Error("Task failed",
				slog.String("kind", string(t.Kind)),
				slog.String("event_id", t.EventID),
				slog.String("pending_id", t.PendingID),
				sl.Err(err),
			)
		}
	})
	pool.Start(workerCtx)

	sweep, err := sweeper.New(log, service, cfg.Workflow.SweepSchedule, time.Minute)
	if err != nil {
		log.Error("Failed to init sweeper", sl.Err(err))
		os.Exit(1)
	}
	sweep.Start()

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Get("/healthz", health.New(log, storage))

	router.With(CORS).Get("/pending/{id}", pendingGet.New(log, service))

	// Webhooks
	router.Group(func(r chi.Router) {
		r.Use(mwSignature.New(log, signature.NewVerifier(cfg.Slack.SigningSecret)))

		r.Post("/slack/events", slackEvents.New(log, tasks, locker))
		r.Post("/slack/interactions", slackInteractions.New(log, tasks))
	})

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	select {
	case <-sweep.Stop().Done():
		log.Info("Sweeper stopped")
	case <-shutdownCtx.Done():
		log.Warn("Sweeper did not stop in time")
	}

	if err := tasks.Close(); err != nil {
		log.Error("Failed to close queue", sl.Err(err))
	}

	workersDone := make(chan struct{})
	go func() {
		pool.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		log.Info("Workers drained")
	case <-shutdownCtx.Done():
		log.Warn("Workers did not finish in time, cancelling")
		stopWorkers()
		<-workersDone
	}

	if err := storage.Close(); err != nil {
		log.Error("Failed to close storage", sl.Err(err))
	} else {
		log.Info("Storage closed")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close redis", sl.Err(err))
		} else {
			log.Info("Redis closed")
		}
	}

	log.Info("Shutdown finished, server stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
