// Package audit 安全事件审计
//
// 每个 SafetyEvent 生成一条哈希链审计条目，交给外部签名器签名后写入日志汇。
// 签名失败不阻塞也不改变已经做出的安全决策：条目照常追加，Signature 为空并记录 SignerError。
// 本包不持久化条目，只负责移交给 Sink。
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forgecore/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Signer 安全元件签名接口
type Signer interface {
	Sign(ctx context.Context, payload []byte) (models.Signature, error)
}

// ErrNoSigner 未配置签名器
var ErrNoSigner = errors.New("no signer configured")

// Emitter 审计条目生成器，维护链尾哈希
type Emitter struct {
	signer      Signer
	sink        Sink
	signTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	prevHash string
	sequence uint64

	now   func() time.Time
	newID func() string
}

// NewEmitter 创建审计条目生成器；signer 可为 nil（所有条目标记为未签名）
func NewEmitter(signer Signer, sink Sink, signTimeout time.Duration, logger *zap.Logger) *Emitter {
	return &Emitter{
		signer:      signer,
		sink:        sink,
		signTimeout: signTimeout,
		logger:      logger,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Resume 从已有链尾继续（进程重启后链接到日志汇中最后一条）
func (e *Emitter) Resume(last models.AuditEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prevHash = last.Hash
	e.sequence = last.Sequence
}

// Head 当前链尾哈希与序号
func (e *Emitter) Head() (string, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prevHash, e.sequence
}

// Record 生成、签名并追加一条审计条目
func (e *Emitter) Record(ctx context.Context, event models.SafetyEvent) models.AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := models.AuditEntry{
		ID:         e.newID(),
		Sequence:   e.sequence + 1,
		Event:      event,
		PrevHash:   e.prevHash,
		RecordedAt: e.now().UTC(),
	}

	canonical, err := Canonicalize(entry.ID, entry.Sequence, entry.PrevHash, event)
	if err != nil {
		// 规范化失败时仍保留条目，以哈希链标记缺口
		e.logger.Error("Failed to canonicalize safety event", zap.Uint64("event_sequence", event.Sequence), zap.Error(err))
		entry.SignerError = err.Error()
	} else {
		entry.Canonical = canonical
		e.sign(ctx, &entry)
	}

	entry.Hash = ChainHash(entry.PrevHash, entry.Canonical, entry.Signature)
	e.prevHash = entry.Hash
	e.sequence = entry.Sequence

	if e.sink != nil {
		if err := e.sink.Append(ctx, entry); err != nil {
			e.logger.Error("Failed to append audit entry",
				zap.String("entry_id", entry.ID),
				zap.Uint64("sequence", entry.Sequence),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Audit entry recorded",
		zap.String("entry_id", entry.ID),
		zap.Uint64("sequence", entry.Sequence),
		zap.String("trigger", string(event.Trigger)),
		zap.Bool("signed", entry.Signed()),
	)
	return entry
}

func (e *Emitter) sign(ctx context.Context, entry *models.AuditEntry) {
	if e.signer == nil {
		entry.SignerError = ErrNoSigner.Error()
		return
	}

	signCtx, cancel := context.WithTimeout(ctx, e.signTimeout)
	defer cancel()

	type signResult struct {
		sig models.Signature
		err error
	}
	ch := make(chan signResult, 1)
	go func() {
		sig, err := e.signer.Sign(signCtx, entry.Canonical)
		ch <- signResult{sig: sig, err: err}
	}()

	var sig models.Signature
	var err error
	select {
	case res := <-ch:
		sig, err = res.sig, res.err
	case <-signCtx.Done():
		err = fmt.Errorf("signer did not answer within %s: %w", e.signTimeout, signCtx.Err())
	}
	if err == nil && len(sig.Value) == 0 {
		err = fmt.Errorf("signer returned empty signature")
	}
	if err != nil {
		e.logger.Warn("Audit entry left unsigned",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		entry.Signature = nil
		entry.SignerError = err.Error()
		return
	}
	entry.Signature = sig.Value
	entry.SignerIdentityRef = sig.KeyRef
}
