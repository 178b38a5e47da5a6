package review

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-sync-resolver/internal/models"

	"github.com/xuri/excelize/v2"
)

// ConflictExportSheet 导出工作表名
const ConflictExportSheet = "Conflicts"

// ConflictExportHeader 导出表头
var ConflictExportHeader = []string{
	"Log ID",
	"Client",
	"Table",
	"Record ID",
	"Conflict Type",
	"Strategy",
	"Detected At",
	"Resolved At",
	"Resolved By",
	"Deployment ID",
	"Source Data",
	"Target Data",
	"Resolved Data",
}

var conflictExportWidths = []float64{
	10, // Log ID
	18, // Client
	20, // Table
	20, // Record ID
	18, // Conflict Type
	15, // Strategy
	20, // Detected At
	20, // Resolved At
	12, // Resolved By
	38, // Deployment ID
	50, // Source Data
	50, // Target Data
	50, // Resolved Data
}

// GenerateConflictExport 生成冲突记录导出 Excel 文件
// records 为空时只生成表头
func GenerateConflictExport(records []*models.ConflictRecord) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(ConflictExportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ConflictExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(ConflictExportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(ConflictExportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(ConflictExportSheet, name, name, conflictExportWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, rec := range records {
		row := i + 2 // 第1行是表头
		for col, value := range exportRow(rec) {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(ConflictExportSheet, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(ConflictExportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// exportRow 按表头顺序展开一条记录（Log ID 以数字写入）
func exportRow(rec *models.ConflictRecord) []interface{} {
	return []interface{}{
		rec.LogID,
		rec.ClientName,
		rec.TableName,
		rec.RecordID,
		string(rec.ConflictType),
		rec.ResolutionStrategy,
		formatTime(&rec.DetectedAt),
		formatTime(rec.ResolvedAt),
		derefString(rec.ResolvedBy),
		derefString(rec.DeploymentID),
		string(rec.SourceData),
		string(rec.TargetData),
		string(rec.ResolvedData),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
