package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（单个 Broker 连接）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// MaxReconnectInterval 自动重连的最大间隔（0 使用库默认值）
	MaxReconnectInterval time.Duration
}

// SMTPConfig 邮件发送配置
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	BrandingImage string // 可选的品牌图片路径（内嵌到邮件正文）
}

// Config 状态服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig

	// 状态管道特定配置
	Status struct {
		// MQTT Broker 地址（所有租户连接共用同一 Broker，凭证按租户区分）
		Broker string
		// 客户端 ID 前缀，实际 ID = 前缀 + 租户 key
		ClientIDPrefix string
		// 设备状态主题模板，%s 为 deviceId
		TopicTemplate string
		// 实时事件发布频道
		EventChannel string
		// 订阅 QoS（0 = fire-and-forget）
		QoS byte
		// 重连退避
		ReconnectInitialDelay time.Duration
		ReconnectMaxDelay     time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "cityos")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.SMTP.Host = getEnv("SMTP_HOST", "localhost")
	cfg.SMTP.Port = getEnvInt("SMTP_PORT", 25)
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", "")
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", "")
	cfg.SMTP.From = getEnv("SMTP_FROM", "noreply@cityos.local")
	cfg.SMTP.BrandingImage = getEnv("SMTP_BRANDING_IMAGE", "")

	// 状态管道配置
	cfg.Status.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.Status.ClientIDPrefix = getEnv("MQTT_CLIENT_ID_PREFIX", "cityos-status-")
	cfg.Status.TopicTemplate = "/v1/device/%s/active"
	cfg.Status.EventChannel = getEnv("EVENT_CHANNEL", "cityos:device:status")
	cfg.Status.QoS = 0
	cfg.Status.ReconnectInitialDelay = 250 * time.Millisecond
	cfg.Status.ReconnectMaxDelay = 2 * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
