package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 是覆盖配置项时使用的环境变量前缀，例如 SWAPPER_SERVER_ADDRESS。
const EnvPrefix = "SWAPPER"

// Config 描述了 swapper 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Web3     Web3Config     `mapstructure:"web3"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流参数。
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	RateLimit      int    `mapstructure:"rate_limit"`
	RateWindowSecs int    `mapstructure:"rate_window_seconds"`
}

// RateWindow 返回限流窗口。
func (s ServerConfig) RateWindow() time.Duration {
	return time.Duration(s.RateWindowSecs) * time.Second
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	OutputPaths []string    `mapstructure:"output_paths"`
	Audit       AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// StorageConfig 描述 swap 任务存储后端。
type StorageConfig struct {
	JobStore JobStoreConfig `mapstructure:"job_store"`
}

// JobStoreConfig 支持 memory 与 mysql 两种驱动。
type JobStoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	Driver   string         `mapstructure:"driver"`
	Capacity int            `mapstructure:"capacity"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Queue     string `mapstructure:"queue"`
	BlockWait int    `mapstructure:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Queue      string `mapstructure:"queue"`
	Prefetch   int    `mapstructure:"prefetch"`
	Durable    bool   `mapstructure:"durable"`
	AutoDelete bool   `mapstructure:"auto_delete"`
}

// Web3Config 指向链定义文件并设置默认链与截止时间策略。
type Web3Config struct {
	ChainConfig     string `mapstructure:"chain_config"`
	DefaultChain    string `mapstructure:"default_chain"`
	DeadlineSeconds int    `mapstructure:"deadline_seconds"`
}

// DeadlineOffset 返回未显式指定截止时间时使用的偏移量；0 表示不设截止时间。
func (w Web3Config) DeadlineOffset() time.Duration {
	if w.DeadlineSeconds <= 0 {
		return 0
	}
	return time.Duration(w.DeadlineSeconds) * time.Second
}

// JobsConfig 控制异步 swap 任务的执行。
type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
}

// MetricsConfig 控制 Prometheus 指标的暴露方式。Address 为空时挂在 API 服务上。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Address string `mapstructure:"address"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

// AuthConfig 配置 API Key 鉴权；为空时不启用。
type AuthConfig struct {
	APIKeys []APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig 描述一个调用方。key_env 非空时从对应环境变量读取密钥。
type APIKeyConfig struct {
	Name        string   `mapstructure:"name"`
	Key         string   `mapstructure:"key"`
	KeyEnv      string   `mapstructure:"key_env"`
	Permissions []string `mapstructure:"permissions"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load 负责解析指定路径的配置文件（YAML 或 JSON），并叠加 SWAPPER_ 前缀的环境变量。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper 只会为已知的键读取环境变量，这里把可覆盖的键都登记一遍。
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_window_seconds", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("storage.job_store.driver", "memory")
	v.SetDefault("storage.job_store.dsn", "")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.redis.address", "")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.rabbitmq.url", "")
	v.SetDefault("web3.chain_config", "")
	v.SetDefault("web3.default_chain", "")
	v.SetDefault("web3.deadline_seconds", 300)
	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.address", "")
	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.slack_webhook", "")
	v.SetDefault("runtime.data_dir", "")
	return v
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindowSecs <= 0 {
		c.Server.RateWindowSecs = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "swapper:jobs"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "swapper.jobs"
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 1
	}
	if c.Jobs.MaxRetries < 0 {
		c.Jobs.MaxRetries = 0
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	for i := range c.Auth.APIKeys {
		key := &c.Auth.APIKeys[i]
		if key.Key == "" && key.KeyEnv != "" {
			key.Key = os.Getenv(key.KeyEnv)
		}
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查驱动与其依赖的连接参数是否匹配。
func (c *Config) Validate() error {
	switch c.Storage.JobStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.JobStore.DSN) == "" {
			return errors.New("mysql 存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.JobStore.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.Redis.Address) == "" {
			return errors.New("redis 队列需要配置 address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			return errors.New("rabbitmq 队列需要配置 url")
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}

	if c.Alerting.Enabled && strings.TrimSpace(c.Alerting.SlackWebhook) == "" {
		return errors.New("启用告警时需要配置 slack_webhook")
	}

	for i, key := range c.Auth.APIKeys {
		if strings.TrimSpace(key.Name) == "" {
			return fmt.Errorf("auth.api_keys[%d] 缺少 name", i)
		}
		if strings.TrimSpace(key.Key) == "" {
			return fmt.Errorf("调用方 %s 的 API Key 为空", key.Name)
		}
	}
	return nil
}
