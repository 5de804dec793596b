package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("AUDITDB_HOST", "db.local")
	t.Setenv("AUDITDB_PORT", "6543")
	t.Setenv("AUDITDB_NAME", "forge_audit")
	t.Setenv("AUDITDB_MAX_CONNS", "not-a-number")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, Database: "forgecore", SSLMode: "disable", MaxConns: 4}
	cfg.LoadFromEnv("AUDITDB")

	assert.Equal(t, "db.local", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "forge_audit", cfg.Database)
	// 非法数值保持默认
	assert.Equal(t, 4, cfg.MaxConns)
	assert.Equal(t, "host=db.local port=6543 user= password= dbname=forge_audit sslmode=disable", cfg.GetDSN())
}

func TestMQTTConfig_LoadFromEnv_QoSRange(t *testing.T) {
	t.Setenv("SENSOR_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("SENSOR_MQTT_QOS", "7")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("SENSOR_MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_POOL_SIZE", "4")
	t.Setenv("REDIS_READ_TIMEOUT", "250ms")
	t.Setenv("REDIS_WRITE_TIMEOUT", "soon")

	cfg := RedisConfig{Addr: "localhost:6379", WriteTimeout: time.Second}
	cfg.LoadFromEnv("REDIS")

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
	assert.Equal(t, time.Second, cfg.WriteTimeout)
}

func TestDatabaseConfig_ConnectTimeout(t *testing.T) {
	t.Setenv("DB_CONNECT_TIMEOUT", "3s")
	t.Setenv("DB_MAX_IDLE", "2")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, Database: "forgecore", SSLMode: "disable"}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2, cfg.MaxIdle)
	assert.Contains(t, cfg.GetDSN(), " connect_timeout=3")
}
