// Package fusion 提供冗余温度传感器融合功能
//
// 融合规则：
//   - 丢弃 Valid=false 的读数，无效读数不参与任何数值计算
//   - 无有效读数：Unreliable，Value 为最后已知值（仅用于日志）
//   - 有效读数极差超过分歧阈值：Degraded，取中位数（偶数个取偏高的中间值）
//   - 所有有效读数在阈值内：Nominal，取均值
//   - 配置了多个传感器但只剩一个有效：Degraded（冗余丢失）
package fusion

import (
	"sort"
	"time"

	"forgecore/internal/models"

	"go.uber.org/zap"
)

// Fuser 传感器融合器
//
// 非并发安全，由控制循环独占使用
type Fuser struct {
	divergence      models.Temperature // 分歧阈值
	expectedSensors int                // 配置的物理传感器数量
	lastKnown       models.Temperature // 最后一次有效融合值
	logger          *zap.Logger
}

// NewFuser 创建融合器
func NewFuser(divergence models.Temperature, expectedSensors int, logger *zap.Logger) *Fuser {
	return &Fuser{
		divergence:      divergence,
		expectedSensors: expectedSensors,
		logger:          logger,
	}
}

// Fuse 融合一个控制周期的全部读数
//
// 对同一组读数重复调用结果相同
func (f *Fuser) Fuse(readings []models.SensorReading) models.FusedTemperature {
	values := make([]models.Temperature, 0, len(readings))
	var ts time.Time
	for _, r := range readings {
		if r.Timestamp.After(ts) {
			ts = r.Timestamp
		}
		if !r.Valid {
			continue
		}
		values = append(values, r.Temperature)
	}

	if len(values) == 0 {
		f.logger.Warn("No valid sensor readings, fused temperature unreliable",
			zap.Int("sensor_count", len(readings)),
			zap.Stringer("last_known", f.lastKnown),
		)
		return models.FusedTemperature{
			Value:      f.lastKnown,
			Confidence: models.ConfidenceUnreliable,
			Timestamp:  ts,
		}
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	fused := models.FusedTemperature{
		ContributingSensors: len(values),
		Timestamp:           ts,
	}

	spread := values[len(values)-1] - values[0]
	switch {
	case len(values) >= 2 && spread > f.divergence:
		fused.Confidence = models.ConfidenceDegraded
		fused.Value = median(values)
		f.logger.Warn("Sensor readings diverge, using median",
			zap.Stringer("spread", spread),
			zap.Stringer("median", fused.Value),
			zap.Int("valid_sensors", len(values)),
		)
	case len(values) == 1 && f.expectedSensors > 1:
		fused.Confidence = models.ConfidenceDegraded
		fused.Value = values[0]
		f.logger.Warn("Sensor redundancy lost, single valid reading",
			zap.Int("expected_sensors", f.expectedSensors),
		)
	default:
		fused.Confidence = models.ConfidenceNominal
		fused.Value = mean(values)
	}

	f.lastKnown = fused.Value
	return fused
}

// median 有序切片的中位数；偶数个时取偏高的中间值，两个传感器时即较热者
func median(sorted []models.Temperature) models.Temperature {
	return sorted[len(sorted)/2]
}

// mean 均值，向高温取整
func mean(values []models.Temperature) models.Temperature {
	var sum int64
	for _, v := range values {
		sum += int64(v)
	}
	return ceilDiv(sum, int64(len(values)))
}

func ceilDiv(a, b int64) models.Temperature {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return models.Temperature(q)
}
