package profile

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"forgecore/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Preset 内置面板预设
type Preset struct {
	Name    string
	MinTemp models.Temperature
	MaxTemp models.Temperature
}

// DefaultPresets 常见面板类型预设
var DefaultPresets = []Preset{
	{Name: "lcd-separation", MinTemp: models.Celsius(80), MaxTemp: models.Celsius(100)},
	{Name: "oled-separation", MinTemp: models.Celsius(55), MaxTemp: models.Celsius(75)},
	{Name: "back-glass", MinTemp: models.Celsius(90), MaxTemp: models.Celsius(110)},
	{Name: "adhesive-soften", MinTemp: models.Celsius(40), MaxTemp: models.Celsius(60)},
}

// presetFile YAML 预设文件格式
type presetFile struct {
	Profiles []struct {
		Name     string  `yaml:"name"`
		MinTempC float64 `yaml:"min_temp_c"`
		MaxTempC float64 `yaml:"max_temp_c"`
	} `yaml:"profiles"`
}

// Manager 包络管理器，只保存校验通过的 Profile
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	logger   *zap.Logger
}

// NewManager 创建包络管理器
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		profiles: make(map[string]Profile),
		logger:   logger,
	}
}

// Load 校验并加载一个包络；校验失败时拒绝，不会部分加载
func (m *Manager) Load(name string, minTemp, maxTemp models.Temperature) (Profile, error) {
	p, err := New(name, minTemp, maxTemp)
	if err != nil {
		m.logger.Error("Rejected safety profile",
			zap.String("profile", name),
			zap.Stringer("min_temp", minTemp),
			zap.Stringer("max_temp", maxTemp),
			zap.Error(err),
		)
		return Profile{}, err
	}

	m.mu.Lock()
	m.profiles[p.Name()] = p
	m.mu.Unlock()

	m.logger.Info("Loaded safety profile", zap.Stringer("profile", p))
	return p, nil
}

// LoadPresets 加载一组预设，任一失败则全部不加载
func (m *Manager) LoadPresets(presets []Preset) error {
	validated := make([]Profile, 0, len(presets))
	for _, preset := range presets {
		p, err := New(preset.Name, preset.MinTemp, preset.MaxTemp)
		if err != nil {
			return fmt.Errorf("preset %q: %w", preset.Name, err)
		}
		validated = append(validated, p)
	}

	m.mu.Lock()
	for _, p := range validated {
		m.profiles[p.Name()] = p
	}
	m.mu.Unlock()

	m.logger.Info("Loaded safety presets", zap.Int("count", len(validated)))
	return nil
}

// LoadFile 从 YAML 文件加载预设
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile file: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse profile file: %w", err)
	}
	if len(file.Profiles) == 0 {
		return fmt.Errorf("%w: profile file %s defines no profiles", ErrInvalid, path)
	}

	presets := make([]Preset, 0, len(file.Profiles))
	for _, p := range file.Profiles {
		presets = append(presets, Preset{
			Name:    p.Name,
			MinTemp: models.FromFloat(p.MinTempC),
			MaxTemp: models.FromFloat(p.MaxTempC),
		})
	}
	return m.LoadPresets(presets)
}

// Get 按名称获取包络
func (m *Manager) Get(name string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Names 已加载的包络名称（排序）
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
