package safety

import "errors"

var (
	// ErrSafetyViolation 触发无条件切断（过温、传感器不可信、欠温故障）
	ErrSafetyViolation = errors.New("safety violation")
	// ErrConsistencyFault 内部矛盾（输出线与状态不一致、写输出失败），升级为隔离
	ErrConsistencyFault = errors.New("consistency fault")
	// ErrQuarantined 本次上电会话已隔离，需外部维修复位
	ErrQuarantined = errors.New("safety core quarantined: service required")
	// ErrNotIdle 只有 Idle 状态接受加热请求
	ErrNotIdle = errors.New("enable rejected: safety core not idle")
	// ErrStartConditions 加热前置条件不满足
	ErrStartConditions = errors.New("enable rejected: start conditions not met")
)
