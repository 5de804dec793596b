package repository

import (
	"context"
	"encoding/json"
	"fmt"

	rediscommon "forgecore/common/redis"
	"forgecore/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AuditStream Redis Streams 审计日志汇，实现 audit.Sink 与 audit.EntrySource
type AuditStream struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewAuditStream 创建审计流；maxLen 为 0 时不裁剪
func NewAuditStream(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *AuditStream {
	return &AuditStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Append 发布条目
func (s *AuditStream) Append(ctx context.Context, entry models.AuditEntry) error {
	id, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, entry, s.maxLen)
	if err != nil {
		return err
	}
	s.logger.Debug("Audit entry published",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("entry_id", entry.ID),
	)
	return nil
}

// Entries 按流顺序读取全部条目
func (s *AuditStream) Entries(ctx context.Context) ([]models.AuditEntry, error) {
	msgs, err := rediscommon.ReadStreamRange(ctx, s.client, s.stream)
	if err != nil {
		return nil, err
	}

	entries := make([]models.AuditEntry, 0, len(msgs))
	for _, msg := range msgs {
		var entry models.AuditEntry
		if err := json.Unmarshal([]byte(msg.Data), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode stream message %s: %w", msg.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Last 最后一条条目，流为空时返回 nil
func (s *AuditStream) Last(ctx context.Context) (*models.AuditEntry, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", s.stream, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	data, _ := msgs[0].Values["data"].(string)
	var entry models.AuditEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode stream message %s: %w", msgs[0].ID, err)
	}
	return &entry, nil
}
