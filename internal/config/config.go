package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"forgecore/common/config"
)

// 传感器类型
const (
	SensorHwmon = "hwmon" // hwmon:<id>=<tempN_input 路径>
	SensorChip  = "chip"  // chip:<hwmon name>[=<hwmon 根目录>]，展开为该芯片的全部通道
	SensorMQTT  = "mqtt"  // mqtt:<id>
	SensorSim   = "sim"   // sim:<id>[=<初始温度°C>]
)

// 输出线驱动
const (
	OutputMemory = "memory"
	OutputGPIO   = "gpio"
)

// SensorSpec 单个传感器配置
type SensorSpec struct {
	Kind string
	ID   string
	Arg  string
}

// Config 温控安全服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 控制循环与安全策略
	Thermal struct {
		PollInterval   time.Duration // 控制周期，默认 100ms
		SensorTimeout  time.Duration // 单个传感器读取上限，必须小于控制周期
		Sensors        []SensorSpec
		DivergenceC    float64       // 融合分歧阈值（°C）
		DebounceWindow time.Duration // Cutoff 恢复消抖窗口
		FaultWindow    time.Duration // 重复切断统计窗口
		MaxCutoffs     int           // 窗口内允许的切断次数
		WarmupTimeout  time.Duration // 加热后仍不超过 MIN_SAFE 的最长时间
		MQTTMaxAge     time.Duration // MQTT 传感器数据有效期
		ProfileFile    string        // YAML 预设文件，空则使用内置预设
		CommandFIFO    string        // 操作命令 FIFO，空则不启用
	}

	// 加热输出使能线
	Output struct {
		Driver    string
		GPIORoot  string
		GPIOPin   int
		ActiveLow bool
	}

	// 审计
	Audit struct {
		SignerURL      string        // 安全元件桥地址，空则使用 SigningKeyFile
		SigningKeyFile string        // 本地 ed25519 种子（base64），仅开发台架
		SignTimeout    time.Duration // 单条签名上限
		SignerRetries  int
		QueueSize      int
		PostgresSink   bool
		RedisSink      bool
		Stream         string
		StreamMaxLen   int64
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "forgecore"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 4
	cfg.Database.ConnectTimeout = 5 * time.Second
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 4
	cfg.Redis.DialTimeout = 2 * time.Second
	cfg.Redis.ReadTimeout = time.Second
	cfg.Redis.WriteTimeout = time.Second
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "forgecore-thermal"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	env := envParser{}
	cfg.Thermal.PollInterval = env.getDuration("THERMAL_POLL_INTERVAL", 100*time.Millisecond)
	cfg.Thermal.SensorTimeout = env.getDuration("SENSOR_TIMEOUT", 50*time.Millisecond)
	cfg.Thermal.DivergenceC = env.getFloat("FUSION_DIVERGENCE_C", 5)
	cfg.Thermal.DebounceWindow = env.getDuration("CUTOFF_DEBOUNCE", 3*time.Second)
	cfg.Thermal.FaultWindow = env.getDuration("FAULT_WINDOW", 10*time.Minute)
	cfg.Thermal.MaxCutoffs = env.getInt("MAX_CUTOFFS", 5)
	cfg.Thermal.WarmupTimeout = env.getDuration("WARMUP_TIMEOUT", 5*time.Minute)
	cfg.Thermal.MQTTMaxAge = env.getDuration("MQTT_SENSOR_MAX_AGE", time.Second)
	cfg.Thermal.ProfileFile = getEnv("PROFILE_FILE", "")
	cfg.Thermal.CommandFIFO = getEnv("COMMAND_FIFO", "")
	if cfg.Thermal.Sensors, err = ParseSensors(getEnv("SENSORS", "sim:bench-a=25,sim:bench-b=25,sim:bench-c=25")); err != nil {
		return nil, err
	}

	cfg.Output.Driver = getEnv("OUTPUT_DRIVER", OutputMemory)
	cfg.Output.GPIORoot = getEnv("GPIO_ROOT", "/sys/class/gpio")
	cfg.Output.GPIOPin = env.getInt("GPIO_PIN", 17)
	cfg.Output.ActiveLow = env.getBool("GPIO_ACTIVE_LOW", false)

	cfg.Audit.SignerURL = getEnv("SIGNER_URL", "")
	cfg.Audit.SigningKeyFile = getEnv("SIGNING_KEY_FILE", "")
	cfg.Audit.SignTimeout = env.getDuration("SIGN_TIMEOUT", 500*time.Millisecond)
	cfg.Audit.SignerRetries = env.getInt("SIGNER_RETRIES", 0)
	cfg.Audit.QueueSize = env.getInt("AUDIT_QUEUE_SIZE", 256)
	cfg.Audit.PostgresSink = env.getBool("AUDIT_POSTGRES", false)
	cfg.Audit.RedisSink = env.getBool("AUDIT_REDIS", false)
	cfg.Audit.Stream = getEnv("AUDIT_STREAM", "forgecore:audit")
	cfg.Audit.StreamMaxLen = int64(env.getInt("AUDIT_STREAM_MAXLEN", 100000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Thermal.PollInterval <= 0 {
		return fmt.Errorf("THERMAL_POLL_INTERVAL must be positive")
	}
	if c.Thermal.SensorTimeout <= 0 || c.Thermal.SensorTimeout >= c.Thermal.PollInterval {
		return fmt.Errorf("SENSOR_TIMEOUT must be positive and shorter than THERMAL_POLL_INTERVAL")
	}
	if c.Thermal.DivergenceC <= 0 {
		return fmt.Errorf("FUSION_DIVERGENCE_C must be positive")
	}
	if len(c.Thermal.Sensors) == 0 {
		return fmt.Errorf("SENSORS must list at least one sensor")
	}
	switch c.Output.Driver {
	case OutputMemory, OutputGPIO:
	default:
		return fmt.Errorf("unknown OUTPUT_DRIVER %q", c.Output.Driver)
	}
	if c.usesSimulators() && !c.Bench() {
		return fmt.Errorf("sim sensors require every sensor to be sim and OUTPUT_DRIVER=%s", OutputMemory)
	}
	if c.Audit.SignTimeout <= 0 {
		return fmt.Errorf("SIGN_TIMEOUT must be positive")
	}
	return nil
}

// Bench 全部传感器为仿真且输出线为内存驱动，只有这种台架配置允许 set 命令
func (c *Config) Bench() bool {
	if len(c.Thermal.Sensors) == 0 || c.Output.Driver != OutputMemory {
		return false
	}
	for _, spec := range c.Thermal.Sensors {
		if spec.Kind != SensorSim {
			return false
		}
	}
	return true
}

func (c *Config) usesSimulators() bool {
	for _, spec := range c.Thermal.Sensors {
		if spec.Kind == SensorSim {
			return true
		}
	}
	return false
}

// ParseSensors 解析 SENSORS，格式 kind:id[=arg]，逗号分隔
func ParseSensors(raw string) ([]SensorSpec, error) {
	var specs []SensorSpec
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kind, rest, ok := strings.Cut(item, ":")
		if !ok || rest == "" {
			return nil, fmt.Errorf("invalid sensor %q: expected kind:id[=arg]", item)
		}
		id, arg, _ := strings.Cut(rest, "=")
		spec := SensorSpec{Kind: kind, ID: id, Arg: arg}

		switch kind {
		case SensorHwmon:
			if arg == "" {
				return nil, fmt.Errorf("invalid sensor %q: hwmon requires a tempN_input path", item)
			}
		case SensorSim:
			if arg != "" {
				if _, err := strconv.ParseFloat(arg, 64); err != nil {
					return nil, fmt.Errorf("invalid sensor %q: bad initial temperature", item)
				}
			}
		case SensorChip, SensorMQTT:
		default:
			return nil, fmt.Errorf("invalid sensor %q: unknown kind %s", item, kind)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser 解析带类型的环境变量，记录第一个错误
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *envParser) getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}
