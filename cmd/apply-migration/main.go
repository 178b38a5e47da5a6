package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"wisefido-sync-resolver/internal/common/database"
	logpkg "wisefido-sync-resolver/internal/common/logger"
	"wisefido-sync-resolver/internal/config"

	"go.uber.org/zap"
)

// 用法: apply-migration [migration_file.sql ...]
// 不带参数时按文件名顺序执行 migrations/*.sql
func main() {
	log, err := logpkg.NewLogger("info", "console", "apply-migration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	files := os.Args[1:]
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join("migrations", "*.sql"))
		if err != nil {
			log.Fatal("Failed to list migrations", zap.Error(err))
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		log.Fatal("No migration files found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.Error(err))
	}
	defer database.Close(db)

	log.Info("Connected to database", zap.String("database", cfg.Database.Database))

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("Failed to read migration file", zap.String("file", file), zap.Error(err))
		}

		// 每个文件在一个事务内执行（无参数时 lib/pq 支持多语句）
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			cancel()
			log.Fatal("Failed to begin transaction", zap.Error(err))
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			cancel()
			log.Fatal("Failed to apply migration", zap.String("file", file), zap.Error(err))
		}
		if err := tx.Commit(); err != nil {
			cancel()
			log.Fatal("Failed to commit migration", zap.String("file", file), zap.Error(err))
		}
		cancel()

		log.Info("Migration applied", zap.String("file", file))
	}

	log.Info("Migration completed successfully")
}
