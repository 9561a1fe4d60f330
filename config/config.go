package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Storage  storage.Config  `mapstructure:"storage"`
	Cache    CacheConfig     `mapstructure:"cache"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Database database.Config `mapstructure:"database"`
	Splitter SplitterConfig  `mapstructure:"splitter"`
	Log      LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`                                               // 服务器主机
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`                    // 服务器端口
	Mode         string        `mapstructure:"mode" validate:"omitempty,oneof=debug release test"` // gin运行模式
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`                                       // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`                                      // 写入超时
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheConfig 切分区间缓存配置
type CacheConfig struct {
	Enable       bool `mapstructure:"enable"` // 是否启用缓存
	cache.Config `mapstructure:",squash"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable           bool `mapstructure:"enable"` // 是否启用任务队列
	Worker           bool `mapstructure:"worker"` // 是否在服务进程内运行工作者
	taskqueue.Config `mapstructure:",squash"`
}

// SplitterConfig 默认切分配置
type SplitterConfig struct {
	document.SplitterConfig `mapstructure:",squash"`
	Workers                 int           `mapstructure:"workers" validate:"min=1,max=64"` // 批量切分并发数
	Timeout                 time.Duration `mapstructure:"timeout" validate:"min=0"`        // 同步切分超时时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"` // 日志级别
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`                                      // 日志格式
	File       string `mapstructure:"file"`                                                                             // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" validate:"min=0"`                                                        // 单个日志文件最大MB数
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`                                                     // 保留的旧日志文件数量
	MaxAge     int    `mapstructure:"max_age" validate:"min=0"`                                                         // 旧日志文件保留天数
	Compress   bool   `mapstructure:"compress"`                                                                         // 是否压缩旧日志文件
}

// Load 从文件和环境变量加载配置
// 配置文件不存在时使用默认值；同目录和当前目录下的.env文件会先被加载
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"), ".env")

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	} else if errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Config file not found at %s, using defaults", configPath)
	} else {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// 支持环境变量覆盖，例如 SERVER_PORT 覆盖 server.port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	expandEnvironmentVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := document.NewStrategy(c.Splitter.SplitterConfig); err != nil {
		return fmt.Errorf("invalid config: splitter: %w", err)
	}
	if c.Storage.Type == "minio" && (c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "") {
		return errors.New("invalid config: minio storage requires endpoint and bucket")
	}
	if c.Queue.Enable && c.Queue.RedisAddr == "" {
		return errors.New("invalid config: queue requires redis_addr")
	}
	return nil
}

// loadDotEnv 加载存在的.env文件，已设置的环境变量不会被覆盖
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			log.Printf("Warning: failed to load %s: %v", abs, err)
		}
	}
}

// expandEnvironmentVariables 展开配置值中的 ${VAR} 引用
// 环境变量未设置时保留原值
func expandEnvironmentVariables(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		s, ok := v.Get(key).(string)
		if !ok || !strings.Contains(s, "${") {
			continue
		}
		expanded := os.Expand(s, func(name string) string {
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return "${" + name + "}"
		})
		v.Set(key, expanded)
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.path", "./uploads")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "doc-ingest")
	v.SetDefault("storage.minio.use_ssl", false)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "docsplit")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.cleanup_interval", "10m")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.worker", true)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", "1m")

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/ingest.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.max_lifetime", "1h")

	// 切分默认配置
	def := document.DefaultSplitterConfig()
	v.SetDefault("splitter.split_type", string(def.SplitType))
	v.SetDefault("splitter.chunk_size", def.ChunkSize)
	v.SetDefault("splitter.chunk_overlap", def.ChunkOverlap)
	v.SetDefault("splitter.max_chunks", def.MaxChunks)
	v.SetDefault("splitter.max_heading_level", def.MaxHeadingLevel)
	v.SetDefault("splitter.language", "")
	v.SetDefault("splitter.workers", 4)
	v.SetDefault("splitter.timeout", "5m")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
}
