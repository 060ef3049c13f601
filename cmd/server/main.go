// Proxima - personal assistant conversation backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/api"
	"github.com/ashureev/proxima/internal/config"
	"github.com/ashureev/proxima/internal/jobs"
	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/middleware"
	"github.com/ashureev/proxima/internal/orchestrator"
	"github.com/ashureev/proxima/internal/questgen"
	"github.com/ashureev/proxima/internal/relational"
	"github.com/ashureev/proxima/internal/store"
	"github.com/ashureev/proxima/internal/trigger"
	"github.com/ashureev/proxima/internal/watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	loc := cfg.Location()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "timezone", cfg.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Document store.
	sqlite, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqlite.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := sqlite.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Thread changes go to local watchers, through Redis when configured.
	hub := watch.NewHub()
	var publisher watch.Publisher = hub
	if cfg.RedisURL != "" {
		relay, err := watch.NewRedisRelay(ctx, cfg.RedisURL, hub, logger)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Redis relay stopped", "error", err)
			}
		}()
		publisher = relay
		slog.Info("Redis relay enabled")
	}
	repo := watch.Observe(sqlite, publisher)

	// Agent runtime.
	runtime, err := agent.NewGrpcClient(agent.DefaultGrpcClientConfig(cfg.AgentRuntimeAddr), logger)
	if err != nil {
		slog.Error("Failed to connect to agent runtime", "address", cfg.AgentRuntimeAddr, "error", err)
		os.Exit(1)
	}
	defer runtime.Close()

	// Relational data layer and analytics.
	var recall interface {
		orchestrator.Recall
		questgen.Recall
	} = relational.Noop{}
	sinks := analytics.Multi{}
	var pg *relational.PostgresStore
	if cfg.PostgresURL != "" {
		pg, err = relational.NewPostgresStore(ctx, cfg.PostgresURL, loc)
		if err != nil {
			slog.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("Failed to prepare Postgres schema", "error", err)
			os.Exit(1)
		}
		recall = pg
		sinks = append(sinks, analytics.NewTableSink(pg, 10*time.Second, logger))
		slog.Info("Relational store connected")
	} else {
		slog.Warn("POSTGRES_URL not set, remembered context will be empty")
	}

	if cfg.ConversationLog.Enabled {
		fileLog, err := analytics.NewFileLogger(analytics.FileLogConfig{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize conversation logger", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := fileLog.Close(); closeErr != nil {
				slog.Error("Failed to close conversation logger", "error", closeErr)
			}
		}()
		sinks = append(sinks, fileLog)
	}

	// Downstream jobs.
	jobClient := jobs.NewClient(cfg.JobsBaseURL, cfg.JobErrorBuffer, logger,
		jobs.WithObserver(func(job jobs.Job, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.JobCalls.WithLabelValues(string(job), result).Inc()
		}),
	)
	go jobClient.LogErrors(ctx)

	script, err := orchestrator.LoadScript(cfg.OnboardingScript)
	if err != nil {
		slog.Error("Failed to load onboarding script", "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Repo:      repo,
		Runtime:   runtime,
		Recall:    recall,
		Jobs:      jobClient,
		Analytics: sinks,
	}, orchestrator.Config{
		Location:       loc,
		TypingDelayMin: cfg.TypingDelayMin,
		TypingDelayMax: cfg.TypingDelayMax,
		ClosingPause:   cfg.ClosingPause,
		RememberWindow: cfg.RememberWindow,
		Script:         script,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	dispatcher := trigger.NewDispatcher(orch, cfg.TriggerConcurrency, logger)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Handle("/metrics", promhttp.Handler())

	api.NewChatHandler(orch, logger).RegisterRoutes(r)
	api.NewThreadHandler(repo, dispatcher, logger).RegisterRoutes(r)

	if pg != nil && cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			slog.Error("Failed to initialize quest model", "error", err)
			os.Exit(1)
		}
		gen, err := questgen.NewGenerator(questgen.Models{
			Creator: chatModel,
			Critic:  chatModel,
			Reviser: chatModel,
		}, recall, pg, cfg.RefineMaxIterations, logger)
		if err != nil {
			slog.Error("Failed to initialize quest generator", "error", err)
			os.Exit(1)
		}
		api.NewQuestHandler(gen, logger).RegisterRoutes(r)
		slog.Info("Quest generation enabled", "model", cfg.AI.Model)
	} else {
		slog.Info("Quest generation disabled (POSTGRES_URL or ARK model not configured)")
	}

	r.Get("/ws/users/{userID}/sessions/{sessionID}", watch.NewHandler(sqlite, hub, cfg.OriginPatterns(), logger).ServeHTTP)

	// No WriteTimeout: watch websockets and long turns stay open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Running turns finish before the stores close.
	dispatcher.Close()
	jobClient.Wait()

	slog.Info("Server stopped successfully")
}
