package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-sync-resolver/internal/cli"
	"wisefido-sync-resolver/internal/common/database"
	logpkg "wisefido-sync-resolver/internal/common/logger"
	rediscommon "wisefido-sync-resolver/internal/common/redis"
	"wisefido-sync-resolver/internal/config"
	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/repository"
	"wisefido-sync-resolver/internal/review"

	"go.uber.org/zap"
)

func main() {
	// 日志输出到 stderr，不混入命令输出
	log, err := logpkg.NewLogger(os.Getenv("LOG_LEVEL"), "console", "conflict-review")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, log, os.Args[1:])
	cancel()

	// os.Exit 不执行 defer，退出前显式刷新日志
	_ = log.Sync()
	os.Exit(code)
}

// run 执行命令并返回退出码
func run(ctx context.Context, log *zap.Logger, args []string) int {
	open := func(ctx context.Context) (*cli.Backend, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}

		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		redisClient := rediscommon.NewRedisClient(&cfg.Redis)

		return &cli.Backend{
			Conflicts: review.NewService(repository.NewConflictLogRepository(db, log), log),
			Stats:     metrics.NewRedisRecorder(redisClient, cfg.Metrics.KeyPrefix, log),
			Close: func() error {
				rediscommon.Close(redisClient)
				return database.Close(db)
			},
		}, nil
	}

	cmd := cli.NewRootCommand(open)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Debug("Command failed", zap.Error(err))
		return 1
	}
	return 0
}
