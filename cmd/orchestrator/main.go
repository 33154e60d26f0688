package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"portrait-studio-orchestrator/internal/api"
	"portrait-studio-orchestrator/internal/backend"
	"portrait-studio-orchestrator/internal/config"
	"portrait-studio-orchestrator/internal/executor"
	"portrait-studio-orchestrator/internal/export"
	"portrait-studio-orchestrator/internal/logging"
	"portrait-studio-orchestrator/internal/models"
	"portrait-studio-orchestrator/internal/ratelimit"
	"portrait-studio-orchestrator/internal/scheduler"
	"portrait-studio-orchestrator/internal/store"
	"portrait-studio-orchestrator/internal/workspace"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	// The bridge is created after the stores, so change notifications go
	// through this indirection.
	var bridge *workspace.Bridge
	notify := func() {
		if bridge != nil {
			bridge.Notify()
		}
	}

	jobs := store.NewJobStore(notify)
	sources := store.NewSourceStore(notify)
	options := store.NewOptionsStore(models.DefaultOptions(), notify)

	ws, err := workspace.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer ws.Close()
	if err := ws.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	if snap, found, err := ws.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("workspace load failed, starting empty")
	} else if found {
		snap = workspace.Restore(snap)
		sources.Replace(snap.Sources)
		jobs.Replace(snap.Jobs)
		options.Replace(snap.Options)
		logger.Info().Int("sources", len(snap.Sources)).Int("jobs", len(snap.Jobs)).
			Msg("workspace restored")
	}

	bridge = workspace.NewBridge(ws, func() workspace.Snapshot {
		return workspace.Snapshot{
			Sources: sources.Snapshot(),
			Jobs:    jobs.Snapshot(),
			Options: options.Current(),
		}
	}, cfg.SaveDebounce, logger)

	client := backend.NewGemini(backend.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  logger,
	})
	if !client.Configured() {
		logger.Warn().Msg("GEMINI_API_KEY not set; admissions will fail until configured")
	}

	exporter, err := export.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init exporter")
	}

	exec := executor.New(cfg, jobs, sources, client, exporter, logger)
	sched := scheduler.New(cfg, jobs, exec, client.Configured, logger)

	var limiter *ratelimit.UploadLimiter
	if cfg.RateLimitCapacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewUploadLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, 24*time.Hour)
	}

	server := api.New(cfg, jobs, sources, options, sched, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	logger.Info().Dur("tick", cfg.TickInterval).
		Int("analysis_ceiling", cfg.AnalysisCeiling).
		Int("generation_ceiling", cfg.GenerationCeiling).
		Msg("scheduler started")
	_ = sched.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := bridge.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final workspace snapshot failed")
	}
	logger.Info().Msg("orchestrator stopped")
}
