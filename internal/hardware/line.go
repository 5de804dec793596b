// Package hardware 加热输出使能线
//
// 输出线是核心中唯一的共享可变硬件状态，只能由安全状态机持有并写入。
package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// OutputLine 加热器输出使能线
type OutputLine interface {
	// Set 同步驱动输出线，返回时硬件已接收命令
	Set(enabled bool) error
	// Enabled 回读输出线当前电平
	Enabled() (bool, error)
}

// MemoryLine 内存输出线（仿真与测试使用）
type MemoryLine struct {
	mu      sync.Mutex
	enabled bool
	writes  int
}

// NewMemoryLine 创建内存输出线，初始为禁用
func NewMemoryLine() *MemoryLine {
	return &MemoryLine{}
}

// Set 设置电平
func (l *MemoryLine) Set(enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
	l.writes++
	return nil
}

// Enabled 回读电平
func (l *MemoryLine) Enabled() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled, nil
}

// Writes 累计写入次数
func (l *MemoryLine) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// GPIOLine sysfs GPIO 输出线（/sys/class/gpio/gpioN/value）
type GPIOLine struct {
	valuePath string
	activeLow bool
}

// NewGPIOLine 打开已导出的 GPIO，并把引脚方向设为输出、电平设为禁用
func NewGPIOLine(root string, pin int, activeLow bool) (*GPIOLine, error) {
	dir := filepath.Join(root, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("gpio %d not exported: %w", pin, err)
	}

	// direction=low 原子地设为输出并拉低，避免上电瞬间输出
	initial := "low"
	if activeLow {
		initial = "high"
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte(initial), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}

	return &GPIOLine{
		valuePath: filepath.Join(dir, "value"),
		activeLow: activeLow,
	}, nil
}

// Set 写入电平
func (l *GPIOLine) Set(enabled bool) error {
	level := enabled != l.activeLow
	v := "0"
	if level {
		v = "1"
	}
	if err := os.WriteFile(l.valuePath, []byte(v), 0o644); err != nil {
		return fmt.Errorf("failed to write gpio value: %w", err)
	}
	return nil
}

// Enabled 回读电平
func (l *GPIOLine) Enabled() (bool, error) {
	raw, err := os.ReadFile(l.valuePath)
	if err != nil {
		return false, fmt.Errorf("failed to read gpio value: %w", err)
	}
	switch strings.TrimSpace(string(raw)) {
	case "1":
		return !l.activeLow, nil
	case "0":
		return l.activeLow, nil
	default:
		return false, fmt.Errorf("unexpected gpio value %q", strings.TrimSpace(string(raw)))
	}
}
