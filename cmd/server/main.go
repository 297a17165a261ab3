package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tle_zone_judge/internal/api"
	"tle_zone_judge/internal/app/driver"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/app/worker"
	"tle_zone_judge/internal/common/security"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/cache"
	"tle_zone_judge/internal/platform/config"
	"tle_zone_judge/internal/platform/database"
	"tle_zone_judge/internal/platform/logger"
	"tle_zone_judge/internal/platform/metrics"
	"tle_zone_judge/internal/platform/sandbox"

	"go.uber.org/zap"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Logger
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	// 3. Initialize Database
	db, err := database.Connect(startCtx, cfg.DBConnStr)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(startCtx, db); err != nil {
		zl.Fatal("database migration failed", zap.Error(err))
	}
	zl.Info("database connected")

	// 4. Initialize Redis
	rdb, err := cache.ConnectRedis(startCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		zl.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()
	zl.Info("redis connected", zap.String("addr", cfg.RedisAddr))

	// 5. Initialize Repositories
	userRepo := repository.NewPgUserRepository(db)
	problemRepo := repository.NewPgProblemRepository(db)
	submissionRepo := repository.NewPgSubmissionRepository(db)
	txRunner := database.NewTxRunner(db)

	// 6. Initialize Services
	m := metrics.New()
	tokens := security.NewTokenIssuer(cfg.JWTKey, cfg.JWTExp)
	board := cache.NewLeaderboard(rdb, cfg.LeaderboardKey)
	executor := sandbox.NewClient(cfg.SandboxURL, cfg.SandboxTimeLimit, zl.Named("sandbox"))
	drivers := driver.NewRegistry(cfg.PythonVersion)

	authService := service.NewAuthService(userRepo, tokens)
	problemService := service.NewProblemService(problemRepo, txRunner, zl.Named("problems"))
	submissionService := service.NewSubmissionService(submissionRepo)
	scoringService := service.NewScoringService(txRunner, submissionRepo, userRepo, board, m, zl.Named("scoring"))
	judgeService := service.NewJudgeService(problemRepo, drivers, executor, scoringService, m, zl.Named("judge"))
	leaderboardService := service.NewLeaderboardService(userRepo, board, cfg.LeaderboardTopN, m, zl.Named("leaderboard"))

	// 7. Leaderboard reconciliation worker
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	lbWorker := worker.NewLeaderboardWorker(leaderboardService, cfg.LeaderboardSyncInterval, zl.Named("leaderboard-worker"))
	go lbWorker.Start(workerCtx)

	// 8. Initialize Router & HTTP Server
	router := api.NewRouter(api.Services{
		Auth:        authService,
		Problem:     problemService,
		Submission:  submissionService,
		Judge:       judgeService,
		Leaderboard: leaderboardService,
	}, tokens, m, zl.Named("http"))

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.SandboxTimeLimit + 20*time.Second, // A submit waits on the sandbox
		IdleTimeout:  120 * time.Second,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		zl.Info("server starting", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("could not listen", zap.String("port", cfg.APIPort), zap.Error(err))
		}
	}()

	<-stop // Wait for interrupt signal

	zl.Info("shutting down server")
	workerCancel() // Signal worker to stop

	// In-flight submits may still be waiting on the sandbox.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.SandboxTimeLimit+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
		return
	}

	zl.Info("server and worker stopped gracefully")
}
