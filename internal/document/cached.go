package document

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedStrategy 缓存切分区间的策略装饰器
// 缓存键由策略指纹、内容类型和内容哈希组成，缓存出错时直接计算
// 进程内缓存直接保存区间副本，其他缓存保存JSON
type CachedStrategy struct {
	inner       Strategy
	cache       cache.Cache
	ttl         time.Duration
	fingerprint string
	logger      *logrus.Logger
}

// NewCachedStrategy 创建带缓存的策略
func NewCachedStrategy(inner Strategy, c cache.Cache, ttl time.Duration, fingerprint string) *CachedStrategy {
	if fingerprint == "" {
		fingerprint = inner.Name()
	}
	return &CachedStrategy{
		inner:       inner,
		cache:       c,
		ttl:         ttl,
		fingerprint: fingerprint,
		logger:      logrus.StandardLogger(),
	}
}

// SetLogger 设置日志记录器
func (s *CachedStrategy) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Name 返回被装饰策略的名称
func (s *CachedStrategy) Name() string {
	return s.inner.Name()
}

// Supports 与被装饰策略一致
func (s *CachedStrategy) Supports(mimeType string) bool {
	return s.inner.Supports(mimeType)
}

// Spans 优先从缓存读取区间
func (s *CachedStrategy) Spans(content, mimeType string) ([]Span, error) {
	key, err := s.key(content, mimeType)
	if err != nil {
		return s.inner.Spans(content, mimeType)
	}

	if spans, ok := s.lookup(key); ok {
		return spans, nil
	}

	spans, err := s.inner.Spans(content, mimeType)
	if err != nil {
		return nil, err
	}
	s.store(key, spans)
	return spans, nil
}

func (s *CachedStrategy) lookup(key string) ([]Span, bool) {
	log := s.logger.WithField("key", key)

	if oc, ok := s.cache.(cache.ObjectCache); ok {
		value, found := oc.GetObject(key)
		if !found {
			return nil, false
		}
		if spans, ok := value.([]Span); ok {
			return cloneSpans(spans), true
		}
		log.Warn("Discarding malformed cached spans")
		return nil, false
	}

	raw, found, err := s.cache.Get(key)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached spans")
		return nil, false
	}
	if !found {
		return nil, false
	}
	var spans []Span
	if err := json.Unmarshal([]byte(raw), &spans); err != nil {
		log.Warn("Discarding malformed cached spans")
		return nil, false
	}
	return restoreIntegers(spans), true
}

func (s *CachedStrategy) store(key string, spans []Span) {
	if oc, ok := s.cache.(cache.ObjectCache); ok {
		oc.SetObject(key, cloneSpans(spans), s.ttl)
		return
	}

	data, err := json.Marshal(spans)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, string(data), s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to cache spans")
	}
}

func (s *CachedStrategy) key(content, mimeType string) (string, error) {
	hash, err := cache.ContentKey(content)
	if err != nil {
		return "", err
	}
	return cache.GenerateCacheKey("spans", s.fingerprint, mimeType, hash), nil
}

// cloneSpans 复制区间和元数据，缓存中的值不随调用方修改
func cloneSpans(spans []Span) []Span {
	out := make([]Span, len(spans))
	for i, sp := range spans {
		out[i] = Span{Start: sp.Start, End: sp.End, Meta: maps.Clone(sp.Meta)}
	}
	return out
}

// restoreIntegers JSON解码后数字都是float64，整数值还原为int
func restoreIntegers(spans []Span) []Span {
	for _, sp := range spans {
		for k, v := range sp.Meta {
			if f, ok := v.(float64); ok && f == float64(int(f)) {
				sp.Meta[k] = int(f)
			}
		}
	}
	return spans
}
