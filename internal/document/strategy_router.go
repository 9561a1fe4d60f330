package document

// Route 内容类型到策略的路由
type Route struct {
	MimeTypes []string
	Strategy  Strategy
}

// RouterStrategy 根据内容类型选择策略
// 没有匹配的路由时使用fallback，分块的strategy元数据记录实际使用的策略
type RouterStrategy struct {
	routes   map[string]Strategy
	fallback Strategy
}

// NewRouterStrategy 创建路由策略，先注册的路由优先
func NewRouterStrategy(fallback Strategy, routes ...Route) *RouterStrategy {
	r := &RouterStrategy{
		routes:   make(map[string]Strategy),
		fallback: fallback,
	}
	for _, route := range routes {
		if route.Strategy == nil {
			continue
		}
		for _, mt := range route.MimeTypes {
			mt = NormalizeMimeType(mt)
			if _, exists := r.routes[mt]; !exists {
				r.routes[mt] = route.Strategy
			}
		}
	}
	return r
}

// Name 策略名称
func (r *RouterStrategy) Name() string {
	return string(ByAuto)
}

// Supports 任一路由或fallback支持即可
func (r *RouterStrategy) Supports(mimeType string) bool {
	return r.resolve(mimeType) != nil
}

// Spans 交给对应的策略计算区间
func (r *RouterStrategy) Spans(content, mimeType string) ([]Span, error) {
	strategy := r.resolve(mimeType)
	if strategy == nil {
		return nil, &UnsplittableError{
			MimeType: mimeType,
			Strategy: r.Name(),
			Reason:   "no strategy for mime type",
		}
	}

	spans, err := strategy.Spans(content, mimeType)
	if err != nil {
		return nil, err
	}
	return withMeta(spans, map[string]any{MetaStrategy: strategy.Name()}), nil
}

// Resolve 返回处理该内容类型的策略，没有时返回nil
func (r *RouterStrategy) Resolve(mimeType string) Strategy {
	return r.resolve(NormalizeMimeType(mimeType))
}

func (r *RouterStrategy) resolve(mimeType string) Strategy {
	if s, ok := r.routes[mimeType]; ok && s.Supports(mimeType) {
		return s
	}
	if r.fallback != nil && r.fallback.Supports(mimeType) {
		return r.fallback
	}
	return nil
}
