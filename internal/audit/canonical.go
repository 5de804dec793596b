package audit

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"forgecore/internal/models"
)

// canonicalEvent 签名与哈希的规范序列化
// 全部字段为定长结构体成员（不使用 map），保证 json.Marshal 字段顺序固定
type canonicalEvent struct {
	EntryID    string `json:"entry_id"`
	EntrySeq   uint64 `json:"entry_seq"`
	PrevHash   string `json:"prev_hash"`
	EventSeq   uint64 `json:"event_seq"`
	From       string `json:"from"`
	To         string `json:"to"`
	Trigger    string `json:"trigger"`
	FusedTemp  int32  `json:"fused_temp_dc"`
	Confidence string `json:"confidence"`
	Profile    string `json:"profile"`
	Detail     string `json:"detail"`
	Timestamp  string `json:"ts"`
}

// Canonicalize 生成条目的规范字节，签名覆盖条目编号与链前驱
func Canonicalize(entryID string, entrySeq uint64, prevHash string, event models.SafetyEvent) ([]byte, error) {
	c := canonicalEvent{
		EntryID:    entryID,
		EntrySeq:   entrySeq,
		PrevHash:   prevHash,
		EventSeq:   event.Sequence,
		From:       event.From.String(),
		To:         event.To.String(),
		Trigger:    string(event.Trigger),
		FusedTemp:  int32(event.FusedTemp),
		Confidence: event.Confidence.String(),
		Profile:    event.Profile,
		Detail:     event.Detail,
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical event: %w", err)
	}
	return data, nil
}

// ChainHash sha256(prev_hash | canonical | base64(signature))，十六进制
func ChainHash(prevHash string, canonical, signature []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write(canonical)
	h.Write([]byte("|"))
	h.Write([]byte(base64.StdEncoding.EncodeToString(signature)))
	return hex.EncodeToString(h.Sum(nil))
}
