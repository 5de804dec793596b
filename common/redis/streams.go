package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Data   string // "data" 字段的原始 JSON
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
// maxLen > 0 时使用近似裁剪（MAXLEN ~），避免日志流无限增长
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}, maxLen int64) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(jsonBytes),
		},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return id, nil
}

// ReadStreamRange 按 ID 顺序读取 stream 中的全部消息（XRANGE - +）
func ReadStreamRange(ctx context.Context, client *redis.Client, stream string) ([]StreamMessage, error) {
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return []StreamMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		data, _ := msg.Values["data"].(string)
		out = append(out, StreamMessage{
			Stream: stream,
			ID:     msg.ID,
			Data:   data,
		})
	}
	return out, nil
}
