package models

import (
	"fmt"
	"time"
)

// SensorReading 单个传感器的一次读数
// Valid=false 的读数不得参与融合计算
type SensorReading struct {
	SensorID    string
	Temperature Temperature
	Timestamp   time.Time
	Valid       bool
	Err         error // Valid=false 时的原因
}

// Confidence 融合温度可信度
type Confidence int

const (
	ConfidenceNominal Confidence = iota
	ConfidenceDegraded
	ConfidenceUnreliable
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceNominal:
		return "nominal"
	case ConfidenceDegraded:
		return "degraded"
	case ConfidenceUnreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式序列化
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText 从字符串反序列化
func (c *Confidence) UnmarshalText(text []byte) error {
	for v := ConfidenceNominal; v <= ConfidenceUnreliable; v++ {
		if v.String() == string(text) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown confidence %q", text)
}

// FusedTemperature 融合后的可信温度估计
// Confidence=Unreliable 时 Value 仅用于日志，不得用于控制决策
type FusedTemperature struct {
	Value               Temperature
	Confidence          Confidence
	ContributingSensors int
	Timestamp           time.Time
}
