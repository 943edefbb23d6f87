package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
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

// RedisConfig Redis配置（限流计数器）
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
	// SubmissionStream 提交事件 Redis Stream，为空时不发布
	SubmissionStream string
	StreamMaxLen     int64
}

// MQTTConfig MQTT 配置（提交通知，默认禁用）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// GuardConfig 限流 / 防重复 / 清洗参数
type GuardConfig struct {
	DailySubmissionLimit  int64
	DraftRateLimit        int64
	DraftRateWindow       time.Duration
	SubmitDuplicateWindow time.Duration
	AnswerMaxLength       int
}

// Config evaluation-api（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       struct {
		Level  string
		Format string
	}
	// Debug 为 true 时错误详情 / 安全事件堆栈会输出
	Debug bool

	Guard GuardConfig

	// ExpiryInterval 过期对账周期，0 表示不启动定时任务
	ExpiryInterval time.Duration

	// SchemaServiceURL 远程问卷结构服务，为空时读本地库
	SchemaServiceURL string

	MQTT MQTTConfig
}

// Load 从环境变量加载配置；存在 .env 时先加载（不覆盖已有环境变量）
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// DB 不可用时 evaluation-api 回退到内存存储
	cfg.DBEnabled = getBool("DB_ENABLED", true)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "evaluation")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Enabled = getBool("REDIS_ENABLED", true)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", "evaluation")
	cfg.Redis.SubmissionStream = getEnv("SUBMISSION_STREAM", "")
	cfg.Redis.StreamMaxLen = int64(parseInt(getEnv("SUBMISSION_STREAM_MAXLEN", "10000"), 10000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Debug = getBool("APP_DEBUG", false)

	cfg.Guard.DailySubmissionLimit = int64(parseInt(getEnv("DAILY_SUBMISSION_LIMIT", "10"), 10))
	cfg.Guard.DraftRateLimit = int64(parseInt(getEnv("DRAFT_RATE_LIMIT", "120"), 120))
	cfg.Guard.DraftRateWindow = parseDuration(getEnv("DRAFT_RATE_WINDOW", "60s"), time.Minute)
	cfg.Guard.SubmitDuplicateWindow = parseDuration(getEnv("SUBMIT_DUPLICATE_WINDOW", "10s"), 10*time.Second)
	cfg.Guard.AnswerMaxLength = parseInt(getEnv("ANSWER_MAX_LENGTH", "5000"), 5000)

	cfg.ExpiryInterval = parseDuration(getEnv("EXPIRY_INTERVAL", "0"), 0)
	cfg.SchemaServiceURL = getEnv("SCHEMA_SERVICE_URL", "")

	cfg.MQTT.Enabled = getBool("MQTT_ENABLED", false)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "evaluation-api")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "evaluation/survey-responses/submitted")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// parseDuration 支持 "90s" / "1m" 以及纯数字秒
func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
