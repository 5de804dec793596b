package models

import (
	"fmt"
	"time"
)

// SafetyState 安全状态机状态
type SafetyState int

const (
	StateIdle SafetyState = iota
	StateHeating
	StateHolding
	StateCoolingDown
	StateCutoff
	StateQuarantined
)

func (s SafetyState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHeating:
		return "Heating"
	case StateHolding:
		return "Holding"
	case StateCoolingDown:
		return "CoolingDown"
	case StateCutoff:
		return "Cutoff"
	case StateQuarantined:
		return "Quarantined"
	default:
		return "Unknown"
	}
}

// MarshalText 以字符串形式序列化
func (s SafetyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从字符串反序列化
func (s *SafetyState) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateQuarantined; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown safety state %q", text)
}

// OutputAllowed 该状态下输出使能线是否允许为高
func (s SafetyState) OutputAllowed() bool {
	return s == StateHeating
}

// Trigger 状态迁移原因
type Trigger string

const (
	TriggerEnableRequest        Trigger = "enable_request"
	TriggerDisableRequest       Trigger = "disable_request"
	TriggerBandReached          Trigger = "band_reached"
	TriggerBandLost             Trigger = "band_lost"
	TriggerCooled               Trigger = "cooled"
	TriggerOverTemperature      Trigger = "over_temperature"
	TriggerSensorUnreliable     Trigger = "sensor_unreliable"
	TriggerUnderTemperature     Trigger = "under_temperature"
	TriggerWarmupTimeout        Trigger = "warmup_timeout"
	TriggerOutputReadbackFailed Trigger = "output_readback_failed"
	TriggerOutputWriteFailed    Trigger = "output_write_failed"
	TriggerConsistencyFault     Trigger = "consistency_fault"
	TriggerRepeatedCutoff       Trigger = "repeated_cutoff"
	TriggerRecovered            Trigger = "recovered"
	TriggerShutdown             Trigger = "shutdown"
)

// SafetyEvent 一次状态迁移，创建后不可变，按值传递给审计模块
type SafetyEvent struct {
	Sequence   uint64      `json:"sequence"`
	From       SafetyState `json:"from"`
	To         SafetyState `json:"to"`
	Trigger    Trigger     `json:"trigger"`
	FusedTemp  Temperature `json:"fused_temp"` // 0.1°C
	Confidence Confidence  `json:"confidence"`
	Profile    string      `json:"profile,omitempty"`
	Detail     string      `json:"detail,omitempty"` // 附加说明（如底层错误），可为空
	Timestamp  time.Time   `json:"timestamp"`
}
