package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"wisefido-sync-resolver/internal/models"

	"go.uber.org/zap"
)

// ErrNoOpenConflict 没有可更新的未解析冲突记录
var ErrNoOpenConflict = errors.New("no open conflict record")

// ConflictLogRepository 冲突审计日志仓库（sync_metadata.conflict_log，只追加/单次更新，不删除）
type ConflictLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConflictLogRepository 创建冲突审计日志仓库
func NewConflictLogRepository(db *sql.DB, logger *zap.Logger) *ConflictLogRepository {
	return &ConflictLogRepository{
		db:     db,
		logger: logger,
	}
}

const conflictLogColumns = `
			log_id,
			deployment_id,
			client_name,
			table_name,
			record_id,
			conflict_type,
			source_data,
			target_data,
			resolution_strategy,
			detected_at,
			resolved_data,
			resolved_at,
			resolved_by`

// LogDetect 插入检测阶段的冲突记录（每次冲突一条新记录）
func (r *ConflictLogRepository) LogDetect(ctx context.Context, rec *models.ConflictRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("conflict record is required")
	}
	if rec.ClientName == "" {
		return 0, fmt.Errorf("client_name is required")
	}
	if rec.TableName == "" {
		return 0, fmt.Errorf("table_name is required")
	}

	query := `
		INSERT INTO sync_metadata.conflict_log (
			deployment_id,
			client_name,
			table_name,
			record_id,
			conflict_type,
			source_data,
			target_data,
			resolution_strategy,
			detected_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, NOW())
		RETURNING log_id, detected_at
	`

	err := r.db.QueryRowContext(ctx, query,
		nullableString(rec.DeploymentID),
		rec.ClientName,
		rec.TableName,
		rec.RecordID,
		string(rec.ConflictType),
		nullableJSON(rec.SourceData),
		nullableJSON(rec.TargetData),
		rec.ResolutionStrategy,
	).Scan(&rec.LogID, &rec.DetectedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conflict log: %w", err)
	}

	return rec.LogID, nil
}

// LogResolve 更新 (client, table, record_id) 最近一条未解析的记录
// resolved_at 不早于 detected_at
func (r *ConflictLogRepository) LogResolve(ctx context.Context, res models.Resolution) error {
	if res.ClientName == "" {
		return fmt.Errorf("client_name is required")
	}
	if res.TableName == "" {
		return fmt.Errorf("table_name is required")
	}

	query := `
		UPDATE sync_metadata.conflict_log
		SET resolved_data = $1::jsonb,
		    resolved_at = GREATEST(clock_timestamp(), detected_at),
		    resolved_by = $2,
		    resolution_strategy = $3
		WHERE log_id = (
			SELECT log_id
			FROM sync_metadata.conflict_log
			WHERE client_name = $4
			  AND table_name = $5
			  AND record_id = $6
			  AND resolved_at IS NULL
			ORDER BY detected_at DESC, log_id DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		  AND resolved_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableJSON(res.ResolvedData),
		nullableString(res.ResolvedBy),
		res.Strategy,
		res.ClientName,
		res.TableName,
		res.RecordID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conflict log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: client=%s, table=%s, record_id=%s",
			ErrNoOpenConflict, res.ClientName, res.TableName, res.RecordID)
	}

	return nil
}

// ListUnresolved 查询 resolved_at 为空的记录，按检测时间倒序；clientName 为空时不过滤
func (r *ConflictLogRepository) ListUnresolved(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	where := []string{"resolved_at IS NULL"}
	var args []interface{}
	if clientName != "" {
		args = append(args, clientName)
		where = append(where, fmt.Sprintf("client_name = $%d", len(args)))
	}

	return r.list(ctx, where, args, limit)
}

// ListPendingReview 查询 manual 策略且 resolved_by 为空（等待人工确认）的记录
func (r *ConflictLogRepository) ListPendingReview(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	where := []string{"resolution_strategy = 'manual'", "resolved_by IS NULL"}
	var args []interface{}
	if clientName != "" {
		args = append(args, clientName)
		where = append(where, fmt.Sprintf("client_name = $%d", len(args)))
	}

	return r.list(ctx, where, args, limit)
}

// ListHistory 查询单条记录的全部冲突历史（按检测时间倒序）
func (r *ConflictLogRepository) ListHistory(ctx context.Context, clientName, tableName, recordID string, limit int) ([]*models.ConflictRecord, error) {
	if clientName == "" || tableName == "" || recordID == "" {
		return nil, fmt.Errorf("client_name, table_name and record_id are required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	where := []string{"client_name = $1", "table_name = $2", "record_id = $3"}
	return r.list(ctx, where, []interface{}{clientName, tableName, recordID}, limit)
}

func (r *ConflictLogRepository) list(ctx context.Context, where []string, args []interface{}, limit int) ([]*models.ConflictRecord, error) {
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM sync_metadata.conflict_log
		WHERE %s
		ORDER BY detected_at DESC, log_id DESC
		LIMIT $%d
	`, conflictLogColumns, strings.Join(where, "\n		  AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict log: %w", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		rec, err := scanConflictRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflict log: %w", err)
	}

	return records, nil
}

func scanConflictRecord(rows *sql.Rows) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	var deploymentID, resolvedBy sql.NullString
	var conflictType string
	var sourceData, targetData, resolvedData []byte
	var resolvedAt sql.NullTime

	err := rows.Scan(
		&rec.LogID,
		&deploymentID,
		&rec.ClientName,
		&rec.TableName,
		&rec.RecordID,
		&conflictType,
		&sourceData,
		&targetData,
		&rec.ResolutionStrategy,
		&rec.DetectedAt,
		&resolvedData,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflict log: %w", err)
	}

	rec.ConflictType = models.ConflictType(conflictType)
	if deploymentID.Valid {
		rec.DeploymentID = &deploymentID.String
	}
	if len(sourceData) > 0 {
		rec.SourceData = sourceData
	}
	if len(targetData) > 0 {
		rec.TargetData = targetData
	}
	if len(resolvedData) > 0 {
		rec.ResolvedData = resolvedData
	}
	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		rec.ResolvedBy = &resolvedBy.String
	}

	return &rec, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// nullableJSON JSONB 参数以字符串传入，空值写 NULL
func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
