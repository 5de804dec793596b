package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttcommon "forgecore/common/mqtt"
	"forgecore/internal/models"

	"go.uber.org/zap"
)

// TopicPrefix 传感器节点上报主题前缀，完整主题 forgecore/sensor/<id>/temperature
const TopicPrefix = "forgecore/sensor"

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// temperatureMessage 传感器节点上报格式
type temperatureMessage struct {
	TemperatureC *float64 `json:"temperature_c"`
	Fault        string   `json:"fault,omitempty"` // 节点自检故障，如 open_circuit
}

type sample struct {
	temp       models.Temperature
	fault      string
	receivedAt time.Time
}

// MQTTFeed 订阅传感器节点上报并保存每个传感器的最新值
type MQTTFeed struct {
	sub    Subscriber
	qos    byte
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	latest map[string]sample
}

// NewMQTTFeed 创建 MQTT 数据源
func NewMQTTFeed(sub Subscriber, qos byte, maxAge time.Duration, logger *zap.Logger) *MQTTFeed {
	return &MQTTFeed{
		sub:    sub,
		qos:    qos,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger,
		latest: make(map[string]sample),
	}
}

func (f *MQTTFeed) topic() string {
	return TopicPrefix + "/+/temperature"
}

// Start 订阅上报主题
func (f *MQTTFeed) Start() error {
	if err := f.sub.Subscribe(f.topic(), f.qos, f.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}
	f.logger.Info("MQTT sensor feed started", zap.String("topic", f.topic()))
	return nil
}

// Stop 取消订阅
func (f *MQTTFeed) Stop() {
	if err := f.sub.Unsubscribe(f.topic()); err != nil {
		f.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	f.logger.Info("MQTT sensor feed stopped")
}

// Source 返回指定传感器的读取源
func (f *MQTTFeed) Source(id string) *MQTTSource {
	return &MQTTSource{feed: f, id: id}
}

// handleMessage 处理上报消息
func (f *MQTTFeed) handleMessage(topic string, payload []byte) error {
	// 主题格式: forgecore/sensor/{sensor_id}/temperature
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[2] == "" {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	id := parts[2]

	var msg temperatureMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal sensor message: %w", err)
	}
	if msg.TemperatureC == nil && msg.Fault == "" {
		return fmt.Errorf("sensor message from %s carries neither temperature nor fault", id)
	}

	s := sample{fault: msg.Fault, receivedAt: f.now()}
	if msg.TemperatureC != nil {
		s.temp = models.FromFloat(*msg.TemperatureC)
	}

	f.mu.Lock()
	f.latest[id] = s
	f.mu.Unlock()
	return nil
}

func (f *MQTTFeed) read(id string) (models.Temperature, error) {
	f.mu.RLock()
	s, ok := f.latest[id]
	f.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: no data received from %s", ErrSensorFault, id)
	}
	if s.fault != "" {
		return 0, fmt.Errorf("%w: %s reported %s", ErrSensorFault, id, s.fault)
	}
	if age := f.now().Sub(s.receivedAt); age > f.maxAge {
		return 0, fmt.Errorf("%w: %s data is %s old", ErrTimeout, id, age.Truncate(time.Millisecond))
	}
	return s.temp, nil
}

// MQTTSource 单个 MQTT 传感器
type MQTTSource struct {
	feed *MQTTFeed
	id   string
}

// ID 传感器标识
func (s *MQTTSource) ID() string { return s.id }

// Read 返回最新的未过期值
func (s *MQTTSource) Read(ctx context.Context) (models.Temperature, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.feed.read(s.id)
}
