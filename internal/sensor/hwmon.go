package sensor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"forgecore/internal/models"
)

// HwmonSource Linux hwmon 温度通道（tempN_input，单位毫摄氏度）
type HwmonSource struct {
	id   string
	path string
}

// NewHwmonSource 创建 hwmon 传感器
func NewHwmonSource(id, path string) *HwmonSource {
	return &HwmonSource{id: id, path: path}
}

// ID 传感器标识
func (s *HwmonSource) ID() string { return s.id }

// Read 读取温度
func (s *HwmonSource) Read(ctx context.Context) (models.Temperature, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrSensorFault, s.path, err)
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrSensorFault, s.path, err)
	}
	return models.FromMilliCelsius(milli), nil
}

// DiscoverHwmon 查找 name 为 chip 的 hwmon 设备，返回其全部 tempN_input 通道
// root 一般为 /sys/class/hwmon
func DiscoverHwmon(root, chip string) ([]*HwmonSource, error) {
	matches, err := filepath.Glob(filepath.Join(root, "hwmon*", "name"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan hwmon: %w", err)
	}

	var sources []*HwmonSource
	for _, namePath := range matches {
		name, err := os.ReadFile(namePath)
		if err != nil || strings.TrimSpace(string(name)) != chip {
			continue
		}
		dir := filepath.Dir(namePath)
		inputs, _ := filepath.Glob(filepath.Join(dir, "temp*_input"))
		sort.Strings(inputs)
		for _, input := range inputs {
			channel := strings.TrimSuffix(filepath.Base(input), "_input")
			id := fmt.Sprintf("%s-%s-%s", chip, filepath.Base(dir), channel)
			sources = append(sources, NewHwmonSource(id, input))
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no hwmon channels found for chip %s under %s", chip, root)
	}
	return sources, nil
}
