package review

import (
	"context"
	"fmt"

	"wisefido-sync-resolver/internal/models"

	"go.uber.org/zap"
)

const (
	// DefaultLimit 默认返回条数
	DefaultLimit = 100
	// MaxLimit 单次查询上限
	MaxLimit = 1000
	// HistoryLimit 单条记录的历史条数上限
	HistoryLimit = 200
)

// ConflictLogReader 审计日志查询接口（Postgres 实现见 repository.ConflictLogRepository）
type ConflictLogReader interface {
	ListUnresolved(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error)
	ListPendingReview(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error)
	ListHistory(ctx context.Context, clientName, tableName, recordID string, limit int) ([]*models.ConflictRecord, error)
}

// Service 人工复核查询服务
type Service struct {
	repo   ConflictLogReader
	logger *zap.Logger
}

// NewService 创建复核服务
func NewService(repo ConflictLogReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Unresolved 未解析的冲突（resolved_at 为空），最新检测的在前
// clientName 为空时查询全部客户端；limit <= 0 使用默认值，超过上限按上限截断
func (s *Service) Unresolved(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	limit = clampLimit(limit)
	records, err := s.repo.ListUnresolved(ctx, clientName, limit)
	if err != nil {
		s.logger.Error("Failed to query unresolved conflicts",
			zap.String("client_name", clientName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query unresolved conflicts: %w", err)
	}

	s.logger.Debug("Queried unresolved conflicts",
		zap.String("client_name", clientName),
		zap.Int("count", len(records)),
	)
	return records, nil
}

// PendingReview 等待人工确认的 manual 冲突
func (s *Service) PendingReview(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	limit = clampLimit(limit)
	records, err := s.repo.ListPendingReview(ctx, clientName, limit)
	if err != nil {
		s.logger.Error("Failed to query pending review conflicts",
			zap.String("client_name", clientName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query pending review conflicts: %w", err)
	}
	return records, nil
}

// History 单条记录的冲突历史
func (s *Service) History(ctx context.Context, clientName, tableName, recordID string) ([]*models.ConflictRecord, error) {
	records, err := s.repo.ListHistory(ctx, clientName, tableName, recordID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict history: %w", err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
