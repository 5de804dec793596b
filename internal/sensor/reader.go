// Package sensor 冗余温度传感器读取
//
// Reader 每个控制周期并行读取全部传感器，所有读取完成或超时后才返回（单周期屏障）。
// 超时或失败的传感器给出 Valid=false 的读数，不做重试。
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"forgecore/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrSensorFault 传感器报告故障或读取失败
	ErrSensorFault = errors.New("sensor fault")
	// ErrTimeout 传感器未在超时内应答，或数据过期
	ErrTimeout = errors.New("sensor timeout")
	// ErrImplausible 读数超出物理合理范围
	ErrImplausible = errors.New("implausible sensor reading")
)

// 物理合理范围，超出视为接线或转换故障
const (
	MinPlausibleTemp models.Temperature = -400 // -40°C
	MaxPlausibleTemp models.Temperature = 4000 // 400°C
)

// Source 单个温度传感器
type Source interface {
	ID() string
	// Read 读取一次温度；应遵守 ctx 截止时间
	Read(ctx context.Context) (models.Temperature, error)
}

// Reader 并行读取一组传感器
type Reader struct {
	sources []Source
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewReader 创建传感器读取器
func NewReader(sources []Source, timeout time.Duration, logger *zap.Logger) (*Reader, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one sensor source is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("sensor timeout must be positive")
	}
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if seen[src.ID()] {
			return nil, fmt.Errorf("duplicate sensor id: %s", src.ID())
		}
		seen[src.ID()] = true
	}

	return &Reader{
		sources: sources,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Count 传感器数量
func (r *Reader) Count() int { return len(r.sources) }

type readResult struct {
	temp models.Temperature
	err  error
}

// ReadAll 读取全部传感器，按配置顺序返回
func (r *Reader) ReadAll(ctx context.Context) []models.SensorReading {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	readings := make([]models.SensorReading, len(r.sources))
	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()

			// 不遵守 ctx 的传感器只会泄漏自己的 goroutine，不会拖住屏障
			ch := make(chan readResult, 1)
			go func() {
				temp, err := src.Read(ctx)
				ch <- readResult{temp: temp, err: err}
			}()

			select {
			case res := <-ch:
				readings[i] = r.toReading(src.ID(), res)
			case <-ctx.Done():
				readings[i] = r.invalid(src.ID(), fmt.Errorf("%w: no answer within %s", ErrTimeout, r.timeout))
			}
		}(i, src)
	}
	wg.Wait()

	return readings
}

func (r *Reader) toReading(id string, res readResult) models.SensorReading {
	if res.err != nil {
		err := res.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		} else if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrSensorFault) && !errors.Is(err, ErrImplausible) {
			err = fmt.Errorf("%w: %v", ErrSensorFault, err)
		}
		return r.invalid(id, err)
	}
	if res.temp < MinPlausibleTemp || res.temp > MaxPlausibleTemp {
		return r.invalid(id, fmt.Errorf("%w: %s", ErrImplausible, res.temp))
	}
	return models.SensorReading{
		SensorID:    id,
		Temperature: res.temp,
		Timestamp:   r.now(),
		Valid:       true,
	}
}

func (r *Reader) invalid(id string, err error) models.SensorReading {
	r.logger.Debug("Invalid sensor reading", zap.String("sensor_id", id), zap.Error(err))
	return models.SensorReading{
		SensorID:  id,
		Timestamp: r.now(),
		Valid:     false,
		Err:       err,
	}
}
