package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forgecore/internal/fusion"
	"forgecore/internal/models"
	"forgecore/internal/safety"
	"forgecore/internal/sensor"

	"go.uber.org/zap"
)

// ErrLoopStopped 控制循环已退出，命令无法再被处理
var ErrLoopStopped = errors.New("control loop stopped")

// Status 控制循环状态快照
type Status struct {
	State         models.SafetyState
	OutputEnabled bool
	Profile       string
	Fused         models.FusedTemperature
	RecentCutoffs int
	Cycles        uint64
	LastFault     string
	UpdatedAt     time.Time
}

// command 在循环 goroutine 内执行的操作
type command struct {
	apply  func() error
	result chan error
}

// ControlLoop 固定周期的读取-融合-判定循环
//
// 状态机只在 Run 所在的 goroutine 中被访问；外部命令经 channel 投递到循环内执行。
type ControlLoop struct {
	reader  *sensor.Reader
	fuser   *fusion.Fuser
	machine *safety.Machine
	period  time.Duration
	now     func() time.Time
	logger  *zap.Logger

	commands chan command
	done     chan struct{}

	mu        sync.RWMutex
	status    Status
	lastFused models.FusedTemperature
}

// NewControlLoop 创建控制循环
func NewControlLoop(reader *sensor.Reader, fuser *fusion.Fuser, machine *safety.Machine, period time.Duration, logger *zap.Logger) *ControlLoop {
	l := &ControlLoop{
		reader:   reader,
		fuser:    fuser,
		machine:  machine,
		period:   period,
		now:      time.Now,
		logger:   logger,
		commands: make(chan command),
		done:     make(chan struct{}),
	}
	l.status = Status{
		State:         machine.State(),
		OutputEnabled: machine.OutputEnabled(),
		Fused:         models.FusedTemperature{Confidence: models.ConfidenceUnreliable},
	}
	l.lastFused = l.status.Fused
	return l
}

// Run 运行循环直到 ctx 取消；退出前驱动输出禁用
func (l *ControlLoop) Run(ctx context.Context) error {
	defer close(l.done)

	l.logger.Info("Control loop started",
		zap.Duration("period", l.period),
		zap.Int("sensors", l.reader.Count()),
	)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	// 立即执行一次
	l.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case cmd := <-l.commands:
			err := cmd.apply()
			l.refresh(false, nil)
			cmd.result <- err
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			l.Cycle(ctx)
		}
	}
}

// Cycle 执行一个控制周期
func (l *ControlLoop) Cycle(ctx context.Context) safety.Step {
	readings := l.reader.ReadAll(ctx)
	fused := l.fuser.Fuse(readings)
	step := l.machine.Evaluate(fused, l.now())

	l.lastFused = fused
	if step.Fault != nil {
		l.logger.Error("Safety fault",
			zap.String("state", step.State.String()),
			zap.String("fused", fused.Value.String()),
			zap.String("confidence", fused.Confidence.String()),
			zap.Error(step.Fault),
		)
	}
	if step.Rejected != nil {
		l.logger.Warn("Heating request rejected", zap.Error(step.Rejected))
	}
	l.refresh(true, step.Fault)
	return step
}

func (l *ControlLoop) refresh(cycled bool, fault error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if cycled {
		l.status.Cycles++
	}
	l.status.State = l.machine.State()
	l.status.OutputEnabled = l.machine.OutputEnabled()
	l.status.Profile = l.machine.ActiveProfile().Name()
	l.status.Fused = l.lastFused
	l.status.RecentCutoffs = l.machine.RecentCutoffs(now)
	if fault != nil {
		l.status.LastFault = fault.Error()
	}
	l.status.UpdatedAt = now
}

func (l *ControlLoop) shutdown() {
	if err := l.machine.Shutdown(l.lastFused, l.now()); err != nil {
		l.logger.Error("Output may still be enabled after shutdown", zap.Error(err))
	}
	l.refresh(false, nil)
	l.logger.Info("Control loop stopped", zap.String("state", l.machine.State().String()))
}

// Enable 请求按 profileName 开始加热，下一个周期生效
func (l *ControlLoop) Enable(ctx context.Context, profileName string) error {
	return l.submit(ctx, func() error {
		return l.machine.RequestEnable(profileName)
	})
}

// Disable 请求停止加热，下一个周期生效
func (l *ControlLoop) Disable(ctx context.Context) error {
	return l.submit(ctx, l.machine.RequestDisable)
}

func (l *ControlLoop) submit(ctx context.Context, apply func() error) error {
	cmd := command{apply: apply, result: make(chan error, 1)}
	select {
	case l.commands <- cmd:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return fmt.Errorf("failed to submit command: %w", ctx.Err())
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for command: %w", ctx.Err())
	}
}

// Status 最近一次周期或命令后的状态快照
func (l *ControlLoop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Done 循环退出后关闭
func (l *ControlLoop) Done() <-chan struct{} { return l.done }
