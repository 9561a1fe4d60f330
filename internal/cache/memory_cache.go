package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存，值以Go对象形式保存在go-cache中
// 字符串接口与Redis缓存保持一致，切分区间走GetObject/SetObject免去编解码
type MemoryCache struct {
	items *gocache.Cache
}

var _ ObjectCache = (*MemoryCache)(nil)

// NewMemoryCache 创建内存缓存，未配置的过期和清理间隔取DefaultConfig的值
func NewMemoryCache(config Config) (Cache, error) {
	defaults := DefaultConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	return &MemoryCache{items: gocache.New(config.DefaultTTL, config.CleanupInterval)}, nil
}

// GetObject 取出原始对象
func (m *MemoryCache) GetObject(key string) (any, bool) {
	return m.items.Get(key)
}

// SetObject 保存对象，ttl不大于0时使用默认过期时间
func (m *MemoryCache) SetObject(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(key, value, ttl)
}

// Get 取出字符串值，保存的不是字符串时视为未命中
func (m *MemoryCache) Get(key string) (string, bool, error) {
	value, found := m.GetObject(key)
	str, ok := value.(string)
	return str, found && ok, nil
}

// Set 保存字符串值
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	m.SetObject(key, value, ttl)
	return nil
}

// Delete 删除缓存项
func (m *MemoryCache) Delete(key string) error {
	m.items.Delete(key)
	return nil
}

// Clear 清空本实例的所有缓存项
func (m *MemoryCache) Clear() error {
	m.items.Flush()
	return nil
}

// ItemCount 当前缓存项数量（包含已过期未清理的项）
func (m *MemoryCache) ItemCount() int {
	return m.items.ItemCount()
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
