package sensor

import (
	"context"
	"sync"

	"forgecore/internal/models"
)

// StaticSource 值可由外部设置的传感器（台架仿真使用）
type StaticSource struct {
	id string

	mu   sync.Mutex
	temp models.Temperature
	err  error
}

// NewStaticSource 创建仿真传感器
func NewStaticSource(id string, temp models.Temperature) *StaticSource {
	return &StaticSource{id: id, temp: temp}
}

// ID 传感器标识
func (s *StaticSource) ID() string { return s.id }

// Set 设置温度并清除故障
func (s *StaticSource) Set(temp models.Temperature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = temp
	s.err = nil
}

// Fail 之后的读取返回 err
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Read 读取温度
func (s *StaticSource) Read(ctx context.Context) (models.Temperature, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp, s.err
}
