package models

import (
	"encoding/json"
	"time"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictTypeInsert ConflictType = "insert_conflict"
	ConflictTypeDelete ConflictType = "delete_conflict"
	ConflictTypeUpdate ConflictType = "update_conflict"
	ConflictTypeCustom ConflictType = "custom"
)

// ResolvedByAutomatic 自动解析标记；manual 策略的记录 resolved_by 保持 NULL
const ResolvedByAutomatic = "automatic"

// ConflictRecord 冲突审计记录（sync_metadata.conflict_log）
// 状态：Open（resolved_at 为空）→ Closed（resolved_at 已设置），只转换一次
type ConflictRecord struct {
	LogID              int64           `json:"log_id"`
	DeploymentID       *string         `json:"deployment_id,omitempty"`
	ClientName         string          `json:"client_name"`
	TableName          string          `json:"table_name"`
	RecordID           string          `json:"record_id"`
	ConflictType       ConflictType    `json:"conflict_type"`
	SourceData         json.RawMessage `json:"source_data,omitempty"` // 序列化快照（JSONB）
	TargetData         json.RawMessage `json:"target_data,omitempty"`
	ResolutionStrategy string          `json:"resolution_strategy"`
	DetectedAt         time.Time       `json:"detected_at"`
	ResolvedData       json.RawMessage `json:"resolved_data,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy         *string         `json:"resolved_by,omitempty"`
}

// IsOpen 是否仍未解析
func (c *ConflictRecord) IsOpen() bool {
	return c.ResolvedAt == nil
}

// Resolution 解析阶段写入审计日志的内容
type Resolution struct {
	ClientName   string
	TableName    string
	RecordID     string
	ResolvedData json.RawMessage
	Strategy     string // 实际生效的策略（发生回退时与配置不同）
	ResolvedBy   *string
}

// Outcome 单次解析结果（不持久化，返回给调用方并用于指标）
type Outcome struct {
	Row                *Row
	RecordID           string
	ConflictType       ConflictType
	ConfiguredStrategy string
	AppliedStrategy    string
	FellBack           bool
	Duration           time.Duration
}
