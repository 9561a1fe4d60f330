package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/cache"
)

// SplitType 文本分段的类型
type SplitType string

const (
	// ByParagraph 按段落分割
	ByParagraph SplitType = "paragraph"
	// BySentence 按句子分割
	BySentence SplitType = "sentence"
	// ByLength 按字符长度分割
	ByLength SplitType = "length"
	// ByRecursive 按分隔符递归分割
	ByRecursive SplitType = "recursive"
	// ByMarkdown 按Markdown标题分割
	ByMarkdown SplitType = "markdown"
	// ByCode 按函数、类型等代码结构分割
	ByCode SplitType = "code"
	// ByAuto 根据内容类型自动选择
	ByAuto SplitType = "auto"
)

// StrategyNames 返回所有支持的策略
func StrategyNames() []SplitType {
	return []SplitType{ByParagraph, BySentence, ByLength, ByRecursive, ByMarkdown, ByCode, ByAuto}
}

var strategyDescriptions = map[SplitType]string{
	ByParagraph: "split on blank lines, oversized paragraphs fall back to length windows",
	BySentence:  "one chunk per sentence, oversized sentences fall back to length windows",
	ByLength:    "fixed-size windows with overlap, cut at whitespace when possible",
	ByRecursive: "split on a separator hierarchy, recursing into oversized pieces",
	ByMarkdown:  "split markdown into heading sections",
	ByCode:      "split source code at top-level definitions",
	ByAuto:      "pick a strategy by mime type",
}

// Description 策略说明
func (t SplitType) Description() string {
	return strategyDescriptions[t]
}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	SplitType       SplitType `mapstructure:"split_type" json:"split_type"`               // 分割类型
	ChunkSize       int       `mapstructure:"chunk_size" json:"chunk_size"`               // 分块大小（字节）
	ChunkOverlap    int       `mapstructure:"chunk_overlap" json:"chunk_overlap"`         // 分块重叠大小（字节）
	MaxChunks       int       `mapstructure:"max_chunks" json:"max_chunks"`               // 最大分块数量（0表示不限制）
	Separators      []string  `mapstructure:"separators" json:"separators,omitempty"`     // 递归分割的分隔符
	MaxHeadingLevel int       `mapstructure:"max_heading_level" json:"max_heading_level"` // Markdown分段的最大标题级别
	Language        string    `mapstructure:"language" json:"language,omitempty"`         // 代码分割的默认语言
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		SplitType:       ByParagraph,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		MaxChunks:       0,
		MaxHeadingLevel: 3,
	}
}

// Normalize 补齐缺省值并修正不合理的参数
func (c SplitterConfig) Normalize() SplitterConfig {
	def := DefaultSplitterConfig()
	if c.SplitType == "" {
		c.SplitType = def.SplitType
	}
	c.SplitType = SplitType(strings.ToLower(string(c.SplitType)))
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MaxChunks < 0 {
		c.MaxChunks = 0
	}
	if c.MaxHeadingLevel <= 0 || c.MaxHeadingLevel > 6 {
		c.MaxHeadingLevel = def.MaxHeadingLevel
	}
	return c
}

// Fingerprint 生成配置指纹，用于缓存键
func (c SplitterConfig) Fingerprint() string {
	c = c.Normalize()
	return fmt.Sprintf("%s:%d:%d:%d:%s:%s", c.SplitType, c.ChunkSize, c.ChunkOverlap,
		c.MaxHeadingLevel, c.Language, strings.Join(c.Separators, "|"))
}

// NewStrategy 根据配置创建切分策略
func NewStrategy(cfg SplitterConfig) (Strategy, error) {
	cfg = cfg.Normalize()

	switch cfg.SplitType {
	case ByParagraph:
		return NewParagraphStrategy(cfg.ChunkSize, cfg.ChunkOverlap), nil
	case BySentence:
		return NewSentenceStrategy(cfg.ChunkSize, cfg.ChunkOverlap), nil
	case ByLength:
		return NewLengthStrategy(cfg.ChunkSize, cfg.ChunkOverlap), nil
	case ByRecursive:
		return NewRecursiveStrategy(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Separators...), nil
	case ByMarkdown:
		return NewMarkdownStrategy(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxHeadingLevel), nil
	case ByCode:
		return NewCodeStrategy(cfg.ChunkSize, cfg.Language), nil
	case ByAuto:
		return NewRouterStrategy(
			NewRecursiveStrategy(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Separators...),
			Route{MimeTypes: []string{MimeMarkdown, "text/x-markdown"}, Strategy: NewMarkdownStrategy(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxHeadingLevel)},
			Route{MimeTypes: codeMimeTypes(), Strategy: NewCodeStrategy(cfg.ChunkSize, cfg.Language)},
		), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.SplitType)
	}
}

// NewTextSplitter 根据配置创建切分流水线
func NewTextSplitter(cfg SplitterConfig, opts ...PipelineOption) (*Pipeline, error) {
	strategy, err := NewStrategy(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]PipelineOption{WithMaxChunks(cfg.MaxChunks)}, opts...)
	return NewPipeline(strategy, opts...), nil
}

// NewCachedTextSplitter 创建带区间缓存的切分流水线
func NewCachedTextSplitter(cfg SplitterConfig, c cache.Cache, ttl time.Duration, opts ...PipelineOption) (*Pipeline, error) {
	strategy, err := NewStrategy(cfg)
	if err != nil {
		return nil, err
	}
	var cached *CachedStrategy
	if c != nil {
		cached = NewCachedStrategy(strategy, c, ttl, cfg.Fingerprint())
		strategy = cached
	}
	opts = append([]PipelineOption{WithMaxChunks(cfg.MaxChunks)}, opts...)
	p := NewPipeline(strategy, opts...)
	if cached != nil {
		cached.SetLogger(p.logger)
	}
	return p, nil
}

func codeMimeTypes() []string {
	out := make([]string, 0, len(codeLanguages))
	for mt := range codeLanguages {
		out = append(out, mt)
	}
	return out
}
