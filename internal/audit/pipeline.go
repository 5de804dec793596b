package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"forgecore/internal/models"

	"go.uber.org/zap"
)

// Pipeline 异步审计管道，实现 safety.Emitter
//
// Emit 从不阻塞控制循环：队列满时丢弃并计数。签名与写入由后台 worker 完成。
type Pipeline struct {
	emitter *Emitter
	queue   chan models.SafetyEvent
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewPipeline 创建审计管道
func NewPipeline(emitter *Emitter, size int, logger *zap.Logger) *Pipeline {
	if size < 1 {
		size = 1
	}
	return &Pipeline{
		emitter: emitter,
		queue:   make(chan models.SafetyEvent, size),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start 启动后台 worker
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
	p.logger.Info("Audit pipeline started", zap.Int("queue_size", cap(p.queue)))
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for event := range p.queue {
		// 关闭后继续排空队列，ctx 只用于单条记录
		p.emitter.Record(context.WithoutCancel(ctx), event)
	}
}

// Emit 事件入队
func (p *Pipeline) Emit(event models.SafetyEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(event, "pipeline stopped")
		return
	}
	select {
	case p.queue <- event:
	default:
		p.drop(event, "queue full")
	}
}

func (p *Pipeline) drop(event models.SafetyEvent, reason string) {
	n := p.dropped.Add(1)
	p.logger.Error("Safety event dropped from audit pipeline",
		zap.Uint64("event_sequence", event.Sequence),
		zap.String("trigger", string(event.Trigger)),
		zap.String("reason", reason),
		zap.Uint64("dropped_total", n),
	)
}

// Dropped 累计丢弃数
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Stop 停止接收并等待队列排空，最多等待 timeout
func (p *Pipeline) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.logger.Info("Audit pipeline stopped", zap.Uint64("dropped_total", p.Dropped()))
	case <-time.After(timeout):
		p.logger.Warn("Audit pipeline did not drain in time", zap.Int("pending", len(p.queue)))
	}
}
