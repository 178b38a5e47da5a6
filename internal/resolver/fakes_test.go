package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/models"
)

var errNoOpenConflict = errors.New("no open conflict")

// fakeAuditLog 仅用于单元测试（内存审计日志，语义与 Postgres 实现一致）
type fakeAuditLog struct {
	mu         sync.Mutex
	records    []*models.ConflictRecord
	nextID     int64
	detectErr  error
	resolveErr error
	block      bool // 阻塞直到 ctx 超时
	resolves   int
}

func newFakeAuditLog() *fakeAuditLog {
	return &fakeAuditLog{}
}

func (f *fakeAuditLog) LogDetect(ctx context.Context, rec *models.ConflictRecord) (int64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detectErr != nil {
		return 0, f.detectErr
	}
	f.nextID++
	cp := *rec
	cp.LogID = f.nextID
	cp.DetectedAt = time.Now()
	f.records = append(f.records, &cp)
	return cp.LogID, nil
}

func (f *fakeAuditLog) LogResolve(ctx context.Context, res models.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.resolveErr != nil {
		return f.resolveErr
	}
	var latest *models.ConflictRecord
	for _, rec := range f.records {
		if rec.ClientName != res.ClientName || rec.TableName != res.TableName || rec.RecordID != res.RecordID || !rec.IsOpen() {
			continue
		}
		if latest == nil || !rec.DetectedAt.Before(latest.DetectedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return errNoOpenConflict
	}
	now := time.Now()
	latest.ResolvedAt = &now
	latest.ResolvedData = res.ResolvedData
	latest.ResolutionStrategy = res.Strategy
	latest.ResolvedBy = res.ResolvedBy
	return nil
}

func (f *fakeAuditLog) all() []models.ConflictRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ConflictRecord, len(f.records))
	for i, rec := range f.records {
		out[i] = *rec
	}
	return out
}

// fakeRecorder 收集指标样本
type fakeRecorder struct {
	mu      sync.Mutex
	samples []metrics.Sample
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, s metrics.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeRecorder) all() []metrics.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]metrics.Sample, len(f.samples))
	copy(out, f.samples)
	return out
}
