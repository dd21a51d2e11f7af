// =============================================================================
// 📦 LevelFlow 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("levelflow.yaml").
//	    WithEnvPrefix("LEVELFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment 运行环境。
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config 是 LevelFlow 的完整配置结构
type Config struct {
	// Environment 运行环境: development, production
	Environment Environment `yaml:"environment" env:"ENVIRONMENT"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Storage 存储配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Provider 模型提供方配置
	Provider ProviderConfig `yaml:"provider" env:"PROVIDER"`

	// Engine 执行引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Health 健康巡检配置
	Health HealthConfig `yaml:"health" env:"HEALTH"`

	// Auth 鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// RateLimit 限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	// 后端类型: memory, sqlite, mysql, postgres, redis
	Type string `yaml:"type" env:"TYPE"`
	// SQL 连接串（sqlite 为文件路径）
	DSN string `yaml:"dsn" env:"DSN"`
	// 主机（DSN 为空时按字段拼装）
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式（postgres）
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 执行记录保留时长，零值永久保留
	RunRetention time.Duration `yaml:"run_retention" env:"RUN_RETENTION"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// Redis 库编号
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`
	// Redis 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// BuildDSN 返回连接串：显式 DSN 优先，否则按字段拼装。
func (s *StorageConfig) BuildDSN() string {
	if s.DSN != "" {
		return s.DSN
	}
	switch s.Type {
	case "postgres":
		sslMode := s.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.Host, s.Port, s.User, s.Password, s.Name, sslMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			s.User, s.Password, s.Host, s.Port, s.Name)
	case "sqlite":
		return ":memory:"
	}
	return ""
}

// ProviderConfig 模型提供方配置
type ProviderConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// OpenAI 兼容端点基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	// 单层级超时
	LevelTimeout time.Duration `yaml:"level_timeout" env:"LEVEL_TIMEOUT"`
}

// HealthConfig 健康巡检配置
type HealthConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 巡检间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	// Webhook JWT 签名密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 每秒请求数
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发容量
	Burst int `yaml:"burst" env:"BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:            "memory",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			LevelTimeout: 5 * time.Minute,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     50,
			Burst:   100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "levelflow",
			SampleRate:  1.0,
		},
	}
}

// Production 报告是否运行在生产环境。
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// HealthMonitorEnabled 报告是否应启动后台健康巡检。
// 巡检只在生产环境运行，开发环境即使 Health.Enabled 也不启动。
func (c *Config) HealthMonitorEnabled() bool {
	return c.Health.Enabled && c.Production()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("unknown environment %q", c.Environment))
	}

	switch c.Storage.Type {
	case "memory", "sqlite", "mysql", "postgres", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server addr is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, "rate limit rps must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry enabled but otlp_endpoint not set")
	}
	if c.Production() && c.Auth.JWTSecret == "" {
		errs = append(errs, "jwt_secret is required in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
