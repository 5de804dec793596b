// Package safety 温控安全状态机
//
// 每个控制周期调用一次 Evaluate。检查顺序固定：
//  1. 已隔离：重新确认输出禁用，不做其他处理
//  2. 输出线回读：读取失败 → Cutoff；电平与状态不符 → Quarantined
//  3. 无条件切断：过温、传感器不可信、主动加热期间欠温。先于任何包络逻辑执行，
//     不受包络、模式或外部命令影响
//  4. Cutoff 恢复：温度持续低于 MaxSafeTemp-TempHysteresis 且全程 Nominal 满一个消抖窗口
//  5. 包络逻辑：Idle/Heating/Holding/CoolingDown
//
// 进入 Cutoff 或 Quarantined 时，在 Evaluate 返回前同步写入输出禁用，然后才发出事件。
// 本包不提供任何设置状态、关闭切断检查或清除隔离的接口。
package safety

import (
	"fmt"
	"time"

	"forgecore/internal/hardware"
	"forgecore/internal/models"
	"forgecore/internal/profile"

	"go.uber.org/zap"
)

// Config 状态机策略参数
type Config struct {
	DebounceWindow time.Duration // Cutoff 恢复所需的持续时间
	FaultWindow    time.Duration // 重复切断统计的滚动窗口
	MaxCutoffs     int           // 窗口内允许的切断次数，超过则隔离
	WarmupTimeout  time.Duration // 加热后仍未超过 MinSafeTemp 的最长时间
}

// Validate 校验策略参数
func (c Config) Validate() error {
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce window must be positive")
	}
	if c.FaultWindow <= 0 {
		return fmt.Errorf("fault window must be positive")
	}
	if c.MaxCutoffs < 1 || c.MaxCutoffs > MaxCutoffCapacity {
		return fmt.Errorf("max cutoffs must be between 1 and %d", MaxCutoffCapacity)
	}
	if c.WarmupTimeout <= 0 {
		return fmt.Errorf("warmup timeout must be positive")
	}
	return nil
}

// ProfileSource 包络来源，只返回校验过的 Profile
type ProfileSource interface {
	Get(name string) (profile.Profile, error)
}

// Emitter 安全事件接收方，不得阻塞
type Emitter interface {
	Emit(event models.SafetyEvent)
}

// Step 一次 Evaluate 的结果
type Step struct {
	State         models.SafetyState
	OutputEnabled bool
	Transitioned  bool
	Event         models.SafetyEvent // Transitioned=true 时有效
	Fault         error              // 本周期检测到的安全故障（ErrSafetyViolation / ErrConsistencyFault）
	Rejected      error              // 本周期被拒绝的加热请求
}

type requestKind int

const (
	requestNone requestKind = iota
	requestEnable
	requestDisable
)

// Machine 安全状态机
//
// 非并发安全：由单一控制循环独占，命令须在循环内调用
type Machine struct {
	cfg      Config
	line     hardware.OutputLine
	profiles ProfileSource
	emitter  Emitter
	logger   *zap.Logger

	state   models.SafetyState
	output  bool
	profile profile.Profile

	pending        requestKind
	pendingProfile profile.Profile

	faults        faultRing
	debounceStart time.Time
	heatingSince  time.Time
	bandReached   bool
	seq           uint64
}

// NewMachine 创建状态机，初始状态 Idle，并立即驱动输出禁用
func NewMachine(cfg Config, line hardware.OutputLine, profiles ProfileSource, emitter Emitter, logger *zap.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety config: %w", err)
	}
	if line == nil || profiles == nil || emitter == nil {
		return nil, fmt.Errorf("output line, profile source and emitter are required")
	}
	if err := line.Set(false); err != nil {
		return nil, fmt.Errorf("failed to disable output at startup: %w", err)
	}

	return &Machine{
		cfg:      cfg,
		line:     line,
		profiles: profiles,
		emitter:  emitter,
		logger:   logger,
		state:    models.StateIdle,
		faults:   newFaultRing(cfg.MaxCutoffs),
	}, nil
}

// State 当前状态
func (m *Machine) State() models.SafetyState { return m.state }

// OutputEnabled 最近一次写入的输出电平
func (m *Machine) OutputEnabled() bool { return m.output }

// ActiveProfile 当前加热使用的包络（Idle 时为零值）
func (m *Machine) ActiveProfile() profile.Profile { return m.profile }

// RecentCutoffs 滚动窗口内的切断次数
func (m *Machine) RecentCutoffs(now time.Time) int {
	return m.faults.within(now, m.cfg.FaultWindow)
}

// RequestEnable 登记加热请求，下一周期生效
func (m *Machine) RequestEnable(profileName string) error {
	if m.state == models.StateQuarantined {
		return ErrQuarantined
	}
	if m.state != models.StateIdle {
		return fmt.Errorf("%w: state %s", ErrNotIdle, m.state)
	}
	p, err := m.profiles.Get(profileName)
	if err != nil {
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("%w: %s", profile.ErrInvalid, profileName)
	}
	m.pending = requestEnable
	m.pendingProfile = p
	return nil
}

// RequestDisable 登记停止加热请求，下一周期生效
func (m *Machine) RequestDisable() error {
	if m.state == models.StateQuarantined {
		return ErrQuarantined
	}
	m.pending = requestDisable
	m.pendingProfile = profile.Profile{}
	return nil
}

// Evaluate 执行一个控制周期
func (m *Machine) Evaluate(fused models.FusedTemperature, now time.Time) Step {
	req, reqProfile := m.pending, m.pendingProfile
	m.pending, m.pendingProfile = requestNone, profile.Profile{}

	if m.state == models.StateQuarantined {
		if err := m.line.Set(false); err != nil {
			m.logger.Error("Failed to re-assert output disable while quarantined", zap.Error(err))
		}
		m.output = false
		step := m.step()
		if req != requestNone {
			step.Rejected = ErrQuarantined
		}
		return step
	}

	on, err := m.line.Enabled()
	if err != nil {
		if m.state == models.StateCutoff {
			if setErr := m.disableOutput(); setErr != nil {
				return m.enterQuarantine(models.TriggerOutputWriteFailed, fused, now, setErr)
			}
			m.debounceStart = time.Time{}
			step := m.step()
			step.Fault = fmt.Errorf("%w: %s: %v", ErrSafetyViolation, models.TriggerOutputReadbackFailed, err)
			return m.reject(step, req)
		}
		return m.reject(m.enterCutoff(models.TriggerOutputReadbackFailed, fused, now, err), req)
	}
	if on != m.state.OutputAllowed() || on != m.output {
		detail := fmt.Errorf("%w: output readback %t in state %s", ErrConsistencyFault, on, m.state)
		return m.enterQuarantine(models.TriggerConsistencyFault, fused, now, detail)
	}

	if trigger, ok := m.unconditionalTrigger(fused, now); ok {
		if m.state == models.StateCutoff {
			m.debounceStart = time.Time{}
			step := m.step()
			step.Fault = fmt.Errorf("%w: %s", ErrSafetyViolation, trigger)
			return m.reject(step, req)
		}
		return m.reject(m.enterCutoff(trigger, fused, now, nil), req)
	}

	switch m.state {
	case models.StateCutoff:
		return m.reject(m.evaluateCutoff(fused, now), req)
	case models.StateIdle:
		return m.evaluateIdle(fused, now, req, reqProfile)
	case models.StateHeating:
		return m.evaluateHeating(fused, now, req)
	case models.StateHolding:
		return m.evaluateHolding(fused, now, req)
	case models.StateCoolingDown:
		return m.reject(m.evaluateCoolingDown(fused, now), req)
	}

	// 未知状态视为内部矛盾
	return m.enterQuarantine(models.TriggerConsistencyFault, fused, now,
		fmt.Errorf("%w: unknown state %d", ErrConsistencyFault, m.state))
}

// Shutdown 进程退出前驱动输出禁用；加热相关状态回到 Idle，Cutoff 与 Quarantined 保持不变
func (m *Machine) Shutdown(fused models.FusedTemperature, now time.Time) error {
	m.pending, m.pendingProfile = requestNone, profile.Profile{}
	if err := m.disableOutput(); err != nil {
		m.logger.Error("Failed to disable output on shutdown", zap.Error(err))
		return err
	}
	switch m.state {
	case models.StateHeating, models.StateHolding, models.StateCoolingDown:
		m.transition(models.StateIdle, models.TriggerShutdown, fused, now, "")
		m.profile = profile.Profile{}
	}
	return nil
}

// unconditionalTrigger 无条件切断条件
func (m *Machine) unconditionalTrigger(fused models.FusedTemperature, now time.Time) (models.Trigger, bool) {
	if fused.Confidence == models.ConfidenceUnreliable {
		return models.TriggerSensorUnreliable, true
	}
	if fused.Value >= models.MaxSafeTemp {
		return models.TriggerOverTemperature, true
	}
	if m.state == models.StateHeating || m.state == models.StateHolding {
		if fused.Value <= models.MinSafeTemp {
			if m.bandReached {
				return models.TriggerUnderTemperature, true
			}
			if now.Sub(m.heatingSince) >= m.cfg.WarmupTimeout {
				return models.TriggerWarmupTimeout, true
			}
		}
	}
	return "", false
}

func (m *Machine) evaluateCutoff(fused models.FusedTemperature, now time.Time) Step {
	if fused.Value >= models.MaxSafeTemp-models.TempHysteresis || fused.Confidence != models.ConfidenceNominal {
		m.debounceStart = time.Time{}
		return m.step()
	}
	if m.debounceStart.IsZero() {
		m.debounceStart = now
	}
	if now.Sub(m.debounceStart) < m.cfg.DebounceWindow {
		return m.step()
	}
	m.debounceStart = time.Time{}
	return m.transition(models.StateIdle, models.TriggerRecovered, fused, now, "")
}

func (m *Machine) evaluateIdle(fused models.FusedTemperature, now time.Time, req requestKind, p profile.Profile) Step {
	if req != requestEnable {
		return m.step()
	}
	if !p.Valid() || fused.Value >= p.MaxTemp() {
		step := m.step()
		step.Rejected = fmt.Errorf("%w: fused %s, profile %s", ErrStartConditions, fused.Value, p)
		return step
	}
	if err := m.line.Set(true); err != nil {
		return m.enterCutoff(models.TriggerOutputWriteFailed, fused, now, err)
	}
	m.output = true
	m.profile = p
	m.heatingSince = now
	m.bandReached = false
	return m.transition(models.StateHeating, models.TriggerEnableRequest, fused, now, "")
}

func (m *Machine) evaluateHeating(fused models.FusedTemperature, now time.Time, req requestKind) Step {
	switch {
	case req == requestDisable:
		if err := m.disableOutput(); err != nil {
			return m.enterQuarantine(models.TriggerOutputWriteFailed, fused, now, err)
		}
		return m.transition(models.StateCoolingDown, models.TriggerDisableRequest, fused, now, "")
	case fused.Value >= m.profile.MaxTemp():
		if err := m.disableOutput(); err != nil {
			return m.enterQuarantine(models.TriggerOutputWriteFailed, fused, now, err)
		}
		m.bandReached = true
		return m.transition(models.StateHolding, models.TriggerBandReached, fused, now, "")
	}
	return m.reject(m.step(), req)
}

func (m *Machine) evaluateHolding(fused models.FusedTemperature, now time.Time, req requestKind) Step {
	switch {
	case req == requestDisable:
		return m.transition(models.StateCoolingDown, models.TriggerDisableRequest, fused, now, "")
	case fused.Value < m.profile.MaxTemp()-models.TempHysteresis:
		if err := m.line.Set(true); err != nil {
			return m.enterCutoff(models.TriggerOutputWriteFailed, fused, now, err)
		}
		m.output = true
		return m.transition(models.StateHeating, models.TriggerBandLost, fused, now, "")
	}
	return m.reject(m.step(), req)
}

func (m *Machine) evaluateCoolingDown(fused models.FusedTemperature, now time.Time) Step {
	if fused.Value >= m.profile.MinTemp() {
		return m.step()
	}
	step := m.transition(models.StateIdle, models.TriggerCooled, fused, now, "")
	m.profile = profile.Profile{}
	return step
}

// enterCutoff 进入 Cutoff；超过重复切断阈值或禁用写失败时改为隔离
func (m *Machine) enterCutoff(trigger models.Trigger, fused models.FusedTemperature, now time.Time, cause error) Step {
	if m.faults.exceeds(now, m.cfg.FaultWindow) {
		detail := fmt.Errorf("%w: %d cutoffs within %s, last trigger %s",
			ErrConsistencyFault, m.cfg.MaxCutoffs, m.cfg.FaultWindow, trigger)
		return m.enterQuarantine(models.TriggerRepeatedCutoff, fused, now, detail)
	}
	if err := m.disableOutput(); err != nil {
		return m.enterQuarantine(models.TriggerOutputWriteFailed, fused, now, err)
	}
	m.faults.push(now)
	m.debounceStart = time.Time{}
	m.bandReached = false

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	m.logger.Warn("Thermal cutoff",
		zap.String("trigger", string(trigger)),
		zap.Stringer("from", m.state),
		zap.Stringer("fused_temp", fused.Value),
		zap.Stringer("confidence", fused.Confidence),
		zap.String("detail", detail),
	)
	step := m.transition(models.StateCutoff, trigger, fused, now, detail)
	m.profile = profile.Profile{}
	step.Fault = fmt.Errorf("%w: %s", ErrSafetyViolation, trigger)
	return step
}

// enterQuarantine 进入隔离，本会话内不可退出
func (m *Machine) enterQuarantine(trigger models.Trigger, fused models.FusedTemperature, now time.Time, cause error) Step {
	if err := m.line.Set(false); err != nil {
		m.logger.Error("Failed to disable output on quarantine", zap.Error(err))
	}
	m.output = false

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	m.logger.Error("Safety core quarantined",
		zap.String("trigger", string(trigger)),
		zap.Stringer("from", m.state),
		zap.Stringer("fused_temp", fused.Value),
		zap.String("detail", detail),
	)
	step := m.transition(models.StateQuarantined, trigger, fused, now, detail)
	m.profile = profile.Profile{}
	step.Fault = fmt.Errorf("%w: %s", ErrConsistencyFault, trigger)
	return step
}

func (m *Machine) disableOutput() error {
	if err := m.line.Set(false); err != nil {
		return fmt.Errorf("%w: output disable failed: %v", ErrConsistencyFault, err)
	}
	m.output = false
	return nil
}

// transition 变更状态并发出且仅发出一个事件
func (m *Machine) transition(to models.SafetyState, trigger models.Trigger, fused models.FusedTemperature, now time.Time, detail string) Step {
	from := m.state
	m.state = to
	m.seq++

	profileName := m.profile.Name()
	event := models.SafetyEvent{
		Sequence:   m.seq,
		From:       from,
		To:         to,
		Trigger:    trigger,
		FusedTemp:  fused.Value,
		Confidence: fused.Confidence,
		Profile:    profileName,
		Detail:     detail,
		Timestamp:  now,
	}
	m.emitter.Emit(event)

	m.logger.Info("Safety state transition",
		zap.Uint64("sequence", event.Sequence),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("trigger", string(trigger)),
		zap.Stringer("fused_temp", fused.Value),
	)

	step := m.step()
	step.Transitioned = true
	step.Event = event
	return step
}

func (m *Machine) step() Step {
	return Step{State: m.state, OutputEnabled: m.output}
}

// reject 未被消费的加热请求在本周期作废
func (m *Machine) reject(step Step, req requestKind) Step {
	if req == requestEnable && step.Rejected == nil {
		step.Rejected = fmt.Errorf("%w: state %s", ErrNotIdle, step.State)
	}
	return step
}
