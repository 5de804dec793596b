// Package service 温控安全服务（装配传感器、状态机、输出线与审计链）
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"syscall"
	"time"

	"forgecore/common/database"
	mqttcommon "forgecore/common/mqtt"
	rediscommon "forgecore/common/redis"
	"forgecore/internal/audit"
	"forgecore/internal/config"
	"forgecore/internal/fusion"
	"forgecore/internal/hardware"
	"forgecore/internal/models"
	"forgecore/internal/profile"
	"forgecore/internal/repository"
	"forgecore/internal/safety"
	"forgecore/internal/sensor"
	"forgecore/internal/signer"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 默认值
const (
	defaultHwmonRoot = "/sys/class/hwmon"
	defaultSimTemp   = 25.0
	drainTimeout     = 5 * time.Second
)

// ThermalService 温控安全服务（整合各层）
type ThermalService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	profiles   *profile.Manager
	feed       *sensor.MQTTFeed
	simulators []*sensor.StaticSource
	line       hardware.OutputLine
	emitter    *audit.Emitter
	pipeline   *audit.Pipeline
	loop       *ControlLoop
	commander  *Commander

	fifo   *os.File
	cancel context.CancelFunc
}

// NewThermalService 创建温控安全服务
func NewThermalService(cfg *config.Config, logger *zap.Logger) (*ThermalService, error) {
	s := &ThermalService{
		config: cfg,
		logger: logger,
	}
	if err := s.build(); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *ThermalService) build() error {
	cfg := s.config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 1. 加热包络
	s.profiles = profile.NewManager(s.logger)
	if err := s.profiles.LoadPresets(profile.DefaultPresets); err != nil {
		return fmt.Errorf("failed to load default presets: %w", err)
	}
	if cfg.Thermal.ProfileFile != "" {
		if err := s.profiles.LoadFile(cfg.Thermal.ProfileFile); err != nil {
			return fmt.Errorf("failed to load profile file: %w", err)
		}
	}

	// 2. 传感器
	sources, err := s.buildSources()
	if err != nil {
		return err
	}
	reader, err := sensor.NewReader(sources, cfg.Thermal.SensorTimeout, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create sensor reader: %w", err)
	}
	fuser := fusion.NewFuser(models.FromFloat(cfg.Thermal.DivergenceC), len(sources), s.logger)

	// 3. 输出线
	if s.line, err = s.buildOutputLine(); err != nil {
		return err
	}

	// 4. 审计链
	sink, err := s.buildSinks()
	if err != nil {
		return err
	}
	s.emitter = audit.NewEmitter(s.buildSigner(), sink, cfg.Audit.SignTimeout, s.logger)
	if err := s.resumeChain(); err != nil {
		return err
	}
	s.pipeline = audit.NewPipeline(s.emitter, cfg.Audit.QueueSize, s.logger)

	// 5. 状态机与控制循环
	machine, err := safety.NewMachine(safety.Config{
		DebounceWindow: cfg.Thermal.DebounceWindow,
		FaultWindow:    cfg.Thermal.FaultWindow,
		MaxCutoffs:     cfg.Thermal.MaxCutoffs,
		WarmupTimeout:  cfg.Thermal.WarmupTimeout,
	}, s.line, s.profiles, s.pipeline, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create safety machine: %w", err)
	}
	s.loop = NewControlLoop(reader, fuser, machine, cfg.Thermal.PollInterval, s.logger)
	var adjustable []*sensor.StaticSource
	if cfg.Bench() {
		adjustable = s.simulators
	}
	s.commander = NewCommander(s.loop, adjustable, s.logger)
	return nil
}

func (s *ThermalService) buildSources() ([]sensor.Source, error) {
	var sources []sensor.Source
	for _, spec := range s.config.Thermal.Sensors {
		switch spec.Kind {
		case config.SensorHwmon:
			sources = append(sources, sensor.NewHwmonSource(spec.ID, spec.Arg))
		case config.SensorChip:
			root := spec.Arg
			if root == "" {
				root = defaultHwmonRoot
			}
			found, err := sensor.DiscoverHwmon(root, spec.ID)
			if err != nil {
				return nil, err
			}
			for _, src := range found {
				sources = append(sources, src)
			}
		case config.SensorMQTT:
			feed, err := s.mqttFeed()
			if err != nil {
				return nil, err
			}
			sources = append(sources, feed.Source(spec.ID))
		case config.SensorSim:
			c := defaultSimTemp
			if spec.Arg != "" {
				v, err := strconv.ParseFloat(spec.Arg, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid initial temperature for %s: %w", spec.ID, err)
				}
				c = v
			}
			sim := sensor.NewStaticSource(spec.ID, models.FromFloat(c))
			s.simulators = append(s.simulators, sim)
			sources = append(sources, sim)
		default:
			return nil, fmt.Errorf("unknown sensor kind %q", spec.Kind)
		}
	}
	return sources, nil
}

// mqttFeed 首个 MQTT 传感器出现时连接 broker
func (s *ThermalService) mqttFeed() (*sensor.MQTTFeed, error) {
	if s.feed != nil {
		return s.feed, nil
	}
	client, err := mqttcommon.NewClient(&s.config.MQTT, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect sensor broker: %w", err)
	}
	s.mqttClient = client
	s.feed = sensor.NewMQTTFeed(client, s.config.MQTT.QoS, s.config.Thermal.MQTTMaxAge, s.logger)
	return s.feed, nil
}

func (s *ThermalService) buildOutputLine() (hardware.OutputLine, error) {
	out := s.config.Output
	switch out.Driver {
	case config.OutputGPIO:
		line, err := hardware.NewGPIOLine(out.GPIORoot, out.GPIOPin, out.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("failed to open output line: %w", err)
		}
		return line, nil
	default:
		s.logger.Warn("Using in-memory output line, heater is not connected")
		return hardware.NewMemoryLine(), nil
	}
}

func (s *ThermalService) buildSigner() audit.Signer {
	a := s.config.Audit
	switch {
	case a.SignerURL != "":
		return signer.NewRemoteSigner(a.SignerURL, a.SignTimeout, a.SignerRetries, s.logger)
	case a.SigningKeyFile != "":
		sw, err := signer.LoadSoftwareSigner(a.SigningKeyFile)
		if err != nil {
			// 签名器不可用不阻止启动，条目以无签名形式记录
			s.logger.Error("Failed to load signing key, audit entries will be unsigned", zap.Error(err))
			return nil
		}
		s.logger.Warn("Using software signing key, not for production", zap.String("key_ref", signer.KeyRef(sw.PublicKey())))
		return sw
	default:
		s.logger.Warn("No signer configured, audit entries will be unsigned")
		return nil
	}
}

func (s *ThermalService) buildSinks() (audit.Sink, error) {
	a := s.config.Audit
	var sinks audit.MultiSink

	if a.PostgresSink {
		db, err := database.NewPostgresDB(&s.config.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
		repo := repository.NewAuditEntriesRepository(db, s.logger)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, repo)
	}

	if a.RedisSink {
		client := rediscommon.NewRedisClient(&s.config.Redis)
		s.redisClient = client
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			return nil, err
		}
		sinks = append(sinks, repository.NewAuditStream(client, a.Stream, a.StreamMaxLen, s.logger))
	}

	switch len(sinks) {
	case 0:
		s.logger.Warn("No audit sink configured, entries are only logged")
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// lastEntrySource 能返回链尾条目的日志汇
type lastEntrySource interface {
	Last(ctx context.Context) (*models.AuditEntry, error)
}

// resumeChain 从持久化日志汇恢复链尾，重启后哈希链保持连续
func (s *ThermalService) resumeChain() error {
	var src lastEntrySource
	switch {
	case s.db != nil:
		src = repository.NewAuditEntriesRepository(s.db, s.logger)
	case s.redisClient != nil:
		src = repository.NewAuditStream(s.redisClient, s.config.Audit.Stream, s.config.Audit.StreamMaxLen, s.logger)
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last, err := src.Last(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume audit chain: %w", err)
	}
	if last != nil {
		s.emitter.Resume(*last)
		s.logger.Info("Resumed audit chain", zap.Uint64("sequence", last.Sequence), zap.String("hash", last.Hash))
	}
	return nil
}

// Start 启动服务
func (s *ThermalService) Start(ctx context.Context) error {
	s.logger.Info("Starting thermal service",
		zap.Int("sensors", len(s.config.Thermal.Sensors)),
		zap.String("output", s.config.Output.Driver),
		zap.Strings("profiles", s.profiles.Names()),
	)

	ctx, s.cancel = context.WithCancel(ctx)

	if s.feed != nil {
		if err := s.feed.Start(); err != nil {
			return fmt.Errorf("failed to start sensor feed: %w", err)
		}
	}

	s.pipeline.Start(ctx)

	if s.config.Thermal.CommandFIFO != "" {
		fifo, err := openFIFO(s.config.Thermal.CommandFIFO)
		if err != nil {
			return err
		}
		s.fifo = fifo
		go func() {
			if err := s.commander.Serve(ctx, fifo, nil); err != nil {
				s.logger.Error("Command FIFO closed", zap.Error(err))
			}
		}()
		s.logger.Info("Listening for commands", zap.String("fifo", s.config.Thermal.CommandFIFO))
	}

	go func() {
		if err := s.loop.Run(ctx); err != nil {
			s.logger.Error("Control loop exited", zap.Error(err))
		}
	}()
	return nil
}

// Stop 停止服务：先停止控制循环并禁用输出，再排空审计队列
func (s *ThermalService) Stop() error {
	s.logger.Info("Stopping thermal service")

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.loop.Done():
		case <-time.After(drainTimeout):
			s.logger.Error("Control loop did not stop in time")
		}
		s.pipeline.Stop(drainTimeout)
	}

	if s.fifo != nil {
		if err := s.fifo.Close(); err != nil {
			s.logger.Error("Failed to close command FIFO", zap.Error(err))
		}
	}
	if s.feed != nil {
		s.feed.Stop()
	}
	s.closeResources()
	return nil
}

func (s *ThermalService) closeResources() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}

// Loop 控制循环
func (s *ThermalService) Loop() *ControlLoop { return s.loop }

// Commander 命令执行器
func (s *ThermalService) Commander() *Commander { return s.commander }

// AuditDropped 审计管道累计丢弃数
func (s *ThermalService) AuditDropped() uint64 { return s.pipeline.Dropped() }

// openFIFO 打开命令 FIFO，不存在时创建
// 以读写方式打开，写端全部关闭后读取不会返回 EOF
func openFIFO(path string) (*os.File, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := syscall.Mkfifo(path, 0o660); err != nil {
			return nil, fmt.Errorf("failed to create command FIFO: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat command FIFO: %w", err)
	case info.Mode()&fs.ModeNamedPipe == 0:
		return nil, fmt.Errorf("%s is not a FIFO", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open command FIFO: %w", err)
	}
	return f, nil
}
