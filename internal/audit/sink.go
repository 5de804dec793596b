package audit

import (
	"context"
	"errors"
	"sync"

	"forgecore/internal/models"
)

// Sink 审计日志汇，只接收并保存条目
type Sink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// EntrySource 按链顺序读取已保存的条目（校验与导出使用）
type EntrySource interface {
	Entries(ctx context.Context) ([]models.AuditEntry, error)
}

// MultiSink 同一条目写入多个日志汇；单个失败不影响其他
type MultiSink []Sink

// Append 写入全部日志汇，返回合并后的错误
func (m MultiSink) Append(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink 内存日志汇（台架与测试使用）
type MemorySink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

// Append 追加条目
func (s *MemorySink) Append(_ context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries 返回已追加条目的副本
func (s *MemorySink) Entries(context.Context) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
