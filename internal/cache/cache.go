package cache

import (
	"fmt"
	"strings"
	"time"
)

// Cache 切分结果缓存接口
// 值为序列化后的字符串，由调用方负责编解码
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// ObjectCache 能直接保存Go值的进程内缓存
// 调用方通过类型断言判断是否可用，可用时不必序列化
type ObjectCache interface {
	Cache
	GetObject(key string) (value any, found bool)
	SetObject(key string, value any, ttl time.Duration)
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 创建缓存实例
// Type为空或"none"时返回nil，表示不启用缓存
func NewCache(config Config) (Cache, error) {
	switch config.Type {
	case "", "none":
		return nil, nil
	}
	factory, ok := registry[config.Type]
	if !ok {
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
	return factory(config)
}

// Config 缓存配置
type Config struct {
	Type            string        `mapstructure:"type"`             // 缓存类型: "none", "memory", "redis"
	RedisAddr       string        `mapstructure:"redis_addr"`       // Redis连接地址
	RedisPassword   string        `mapstructure:"redis_password"`   // Redis密码
	RedisDB         int           `mapstructure:"redis_db"`         // Redis数据库编号
	Prefix          string        `mapstructure:"prefix"`           // 键前缀，Clear只删除带该前缀的键
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`      // 默认过期时间
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 自动清理间隔（仅内存缓存）
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		Prefix:          "docsplit",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// GenerateCacheKey 生成标准化的缓存键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
