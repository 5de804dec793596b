package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	mqttcommon "forgecore/common/mqtt"
	"forgecore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSubscriber 记录订阅的处理函数，用于直接投递消息
type fakeSubscriber struct {
	topic        string
	qos          byte
	handler      mqttcommon.MessageHandler
	unsubscribed []string
	subscribeErr error
}

func (s *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.topic, s.qos, s.handler = topic, qos, handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.unsubscribed = append(s.unsubscribed, topics...)
	return nil
}

func newTestFeed(t *testing.T) (*MQTTFeed, *fakeSubscriber, *time.Time) {
	t.Helper()
	sub := &fakeSubscriber{}
	feed := NewMQTTFeed(sub, 1, 500*time.Millisecond, zap.NewNop())
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return now }
	require.NoError(t, feed.Start())
	return feed, sub, &now
}

func TestMQTTFeed_StartStop(t *testing.T) {
	feed, sub, _ := newTestFeed(t)
	assert.Equal(t, "forgecore/sensor/+/temperature", sub.topic)
	assert.Equal(t, byte(1), sub.qos)

	feed.Stop()
	assert.Equal(t, []string{"forgecore/sensor/+/temperature"}, sub.unsubscribed)

	failing := NewMQTTFeed(&fakeSubscriber{subscribeErr: errors.New("not connected")}, 1, time.Second, zap.NewNop())
	assert.Error(t, failing.Start())
}

func TestMQTTFeed_LatestValue(t *testing.T) {
	feed, sub, _ := newTestFeed(t)
	src := feed.Source("tc1")
	assert.Equal(t, "tc1", src.ID())

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, ErrSensorFault)

	require.NoError(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`{"temperature_c": 85.24}`)))
	require.NoError(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`{"temperature_c": 86.26}`)))

	temp, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Temperature(863), temp)
}

func TestMQTTFeed_StaleValue(t *testing.T) {
	feed, sub, now := newTestFeed(t)
	require.NoError(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`{"temperature_c": 90}`)))

	*now = now.Add(500 * time.Millisecond)
	_, err := feed.Source("tc1").Read(context.Background())
	assert.NoError(t, err)

	*now = now.Add(time.Millisecond)
	_, err = feed.Source("tc1").Read(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMQTTFeed_FaultReport(t *testing.T) {
	feed, sub, _ := newTestFeed(t)
	require.NoError(t, sub.handler("forgecore/sensor/tc2/temperature", []byte(`{"fault": "open_circuit"}`)))

	_, err := feed.Source("tc2").Read(context.Background())
	assert.ErrorIs(t, err, ErrSensorFault)
	assert.Contains(t, err.Error(), "open_circuit")
}

func TestMQTTFeed_RejectsBadMessages(t *testing.T) {
	_, sub, _ := newTestFeed(t)

	assert.Error(t, sub.handler("forgecore/sensor/temperature", []byte(`{"temperature_c": 1}`)))
	assert.Error(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`not json`)))
	assert.Error(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`{}`)))
}

func TestMQTTFeed_ThroughReader(t *testing.T) {
	feed, sub, _ := newTestFeed(t)
	require.NoError(t, sub.handler("forgecore/sensor/tc1/temperature", []byte(`{"temperature_c": 70}`)))

	r, err := NewReader([]Source{feed.Source("tc1"), feed.Source("tc2")}, time.Second, zap.NewNop())
	require.NoError(t, err)

	readings := r.ReadAll(context.Background())
	assert.True(t, readings[0].Valid)
	assert.Equal(t, models.Celsius(70), readings[0].Temperature)
	assert.False(t, readings[1].Valid)
}
