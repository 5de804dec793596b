package models

import "time"

// AuditEntry 审计日志条目
// Signature 为 nil 表示签名缺失，此时 SignerError 记录原因
type AuditEntry struct {
	ID                string      `json:"id"`
	Sequence          uint64      `json:"sequence"`
	Event             SafetyEvent `json:"event"`
	Canonical         []byte      `json:"canonical"`
	Signature         []byte      `json:"signature,omitempty"`
	SignerIdentityRef string      `json:"signer_identity_ref,omitempty"`
	SignerError       string      `json:"signer_error,omitempty"`
	PrevHash          string      `json:"prev_hash"`
	Hash              string      `json:"hash"`
	RecordedAt        time.Time   `json:"recorded_at"`
}

// Signature 安全元件返回的签名
type Signature struct {
	Value  []byte
	KeyRef string // 签名密钥标识
}

// Signed 条目是否带有有效签名
func (e AuditEntry) Signed() bool {
	return len(e.Signature) > 0
}
