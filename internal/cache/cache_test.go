package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisCache 使用miniredis创建Redis缓存
func setupRedisCache(t *testing.T, prefix string) (*miniredis.Miniredis, Cache) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  mr.Addr(),
		Prefix:     prefix,
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)
	return mr, c
}

// TestMemoryCache 测试内存缓存的基本功能
func TestMemoryCache(t *testing.T) {
	c, err := NewMemoryCache(Config{
		Type:            "memory",
		DefaultTTL:      time.Second * 2,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	// 测试Set和Get
	assert.NoError(t, c.Set("spans:a", `[{"Start":0,"End":3}]`, 0))
	val, found, err := c.Get("spans:a")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"Start":0,"End":3}]`, val)

	// 测试不存在的键
	val, found, err = c.Get("non-existent")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)

	// 测试过期
	assert.NoError(t, c.Set("expire-soon", "temp", time.Millisecond*200))
	time.Sleep(time.Millisecond * 400)
	_, found, err = c.Get("expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	assert.NoError(t, c.Set("to-delete", "x", 0))
	assert.NoError(t, c.Delete("to-delete"))
	_, found, _ = c.Get("to-delete")
	assert.False(t, found)

	// 测试清空
	assert.NoError(t, c.Set("key2", "value2", 0))
	assert.NoError(t, c.Clear())
	_, found, _ = c.Get("key2")
	assert.False(t, found)
	assert.Equal(t, 0, c.(*MemoryCache).ItemCount())
}

// TestMemoryCacheObjects 对象原样保存，字符串接口只认字符串
func TestMemoryCacheObjects(t *testing.T) {
	c, err := NewMemoryCache(Config{Type: "memory"})
	require.NoError(t, err)
	oc, ok := c.(ObjectCache)
	require.True(t, ok)

	type span struct{ Start, End int }
	oc.SetObject("spans:a", []span{{0, 3}, {4, 9}}, 0)
	v, found := oc.GetObject("spans:a")
	assert.True(t, found)
	assert.Equal(t, []span{{0, 3}, {4, 9}}, v)

	// 非字符串的值对Get不可见
	str, found, err := c.Get("spans:a")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, str)

	require.NoError(t, c.Set("raw", "text", 0))
	v, found = oc.GetObject("raw")
	assert.True(t, found)
	assert.Equal(t, "text", v)

	// 对象也能按TTL过期
	oc.SetObject("short", 1, 100*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	_, found = oc.GetObject("short")
	assert.False(t, found)
}

// TestRedisCache 测试Redis缓存
func TestRedisCache(t *testing.T) {
	mr, c := setupRedisCache(t, "test")

	assert.NoError(t, c.Set("k1", "v1", 0))
	val, found, err := c.Get("k1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", val)

	// 键带有前缀，并使用默认TTL
	assert.True(t, mr.Exists("test:k1"))
	assert.Equal(t, time.Minute, mr.TTL("test:k1"))

	_, found, err = c.Get("missing")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试过期
	assert.NoError(t, c.Set("short", "v", time.Second))
	mr.FastForward(2 * time.Second)
	_, found, err = c.Get("short")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	assert.NoError(t, c.Delete("k1"))
	assert.False(t, mr.Exists("test:k1"))
}

// TestRedisCacheClearKeepsForeignKeys Clear只删除带前缀的键
func TestRedisCacheClearKeepsForeignKeys(t *testing.T) {
	mr, c := setupRedisCache(t, "spans")

	require.NoError(t, mr.Set("other", "keep"))
	require.NoError(t, c.Set("a", "1", 0))
	require.NoError(t, c.Set("b", "2", 0))

	assert.NoError(t, c.Clear())
	assert.False(t, mr.Exists("spans:a"))
	assert.False(t, mr.Exists("spans:b"))
	assert.True(t, mr.Exists("other"))
}

// TestRedisCacheUnavailable 连接失败时返回错误
func TestRedisCacheUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(Config{Type: "redis", RedisAddr: addr})
	assert.Error(t, err)
}

// TestCacheFactory 测试缓存工厂函数
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memCache)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisCache, err := NewCache(Config{Type: "redis", RedisAddr: mr.Addr()})
	assert.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	// 未启用缓存
	none, err := NewCache(Config{Type: "none"})
	assert.NoError(t, err)
	assert.Nil(t, none)

	// 未知缓存类型
	_, err = NewCache(Config{Type: "unknown-type"})
	assert.Error(t, err)
}

// TestGenerateCacheKey 测试缓存键生成
func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "prefix", GenerateCacheKey("prefix"))
	assert.Equal(t, "prefix:part1", GenerateCacheKey("prefix", "part1"))
	assert.Equal(t, "prefix:part1:part2:part3", GenerateCacheKey("prefix", "part1", "part2", "part3"))
}

// TestContentKey 相同内容得到相同的键
func TestContentKey(t *testing.T) {
	k1, err := ContentKey("hello world")
	require.NoError(t, err)
	k2, err := ContentKey("hello world")
	require.NoError(t, err)
	k3, err := ContentKey("hello world!")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEmpty(t, k1)
}
