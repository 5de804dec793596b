// Package config 公共连接配置（数据库、Redis、MQTT），供各二进制复用
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 审计库连接配置
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int
	MaxIdle        int
	ConnectTimeout time.Duration // 启动时 Ping 的等待上限
}

// RedisConfig 审计流所在的 Redis
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int           // 0 使用 go-redis 默认值
	DialTimeout  time.Duration // 连接超时
	ReadTimeout  time.Duration // 单条命令读超时，审计写入不能拖住管道
	WriteTimeout time.Duration
}

// MQTTConfig 传感器节点 broker
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN lib/pq 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	if c.ConnectTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))
	}
	return dsn
}

// LoadFromEnv 读取 <prefix>_HOST 等变量，只覆盖已设置且合法的值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	e := env(prefix)
	e.str("HOST", &c.Host)
	e.int("PORT", &c.Port)
	e.str("USER", &c.User)
	e.str("PASSWORD", &c.Password)
	e.str("NAME", &c.Database)
	e.str("SSLMODE", &c.SSLMode)
	e.int("MAX_CONNS", &c.MaxConns)
	e.int("MAX_IDLE", &c.MaxIdle)
	e.duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
}

// LoadFromEnv 读取 <prefix>_ADDR、_PASSWORD、_DB
func (c *RedisConfig) LoadFromEnv(prefix string) {
	e := env(prefix)
	e.str("ADDR", &c.Addr)
	e.str("PASSWORD", &c.Password)
	e.int("DB", &c.DB)
	e.int("POOL_SIZE", &c.PoolSize)
	e.duration("DIAL_TIMEOUT", &c.DialTimeout)
	e.duration("READ_TIMEOUT", &c.ReadTimeout)
	e.duration("WRITE_TIMEOUT", &c.WriteTimeout)
}

// LoadFromEnv 读取 <prefix>_BROKER 等变量；QoS 只接受 0..2
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	e := env(prefix)
	e.str("BROKER", &c.Broker)
	e.str("CLIENT_ID", &c.ClientID)
	e.str("USERNAME", &c.Username)
	e.str("PASSWORD", &c.Password)

	qos := -1
	if e.int("QOS", &qos) && qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

// env 带前缀的环境变量读取
type env string

func (p env) lookup(key string) (string, bool) {
	v := os.Getenv(string(p) + "_" + key)
	return v, v != ""
}

func (p env) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p env) int(key string, dst *int) bool {
	raw, ok := p.lookup(key)
	if !ok {
		return false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func (p env) duration(key string, dst *time.Duration) {
	raw, ok := p.lookup(key)
	if !ok {
		return
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*dst = v
	}
}
