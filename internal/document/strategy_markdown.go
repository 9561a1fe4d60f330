package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// MetaHeadingLevel 分块所属标题的级别
const MetaHeadingLevel = "heading_level"

// MarkdownStrategy 按Markdown标题分割
// 每个不超过maxLevel级的标题开始一个新的章节，代码块中的#不会被当作标题；
// 超长章节再递归分割，分块元数据中带有所属标题
type MarkdownStrategy struct {
	chunkSize int
	maxLevel  int
	recursive *RecursiveStrategy
	md        goldmark.Markdown
}

// NewMarkdownStrategy 创建Markdown分割策略
func NewMarkdownStrategy(chunkSize, overlap, maxHeadingLevel int) *MarkdownStrategy {
	if maxHeadingLevel <= 0 || maxHeadingLevel > 6 {
		maxHeadingLevel = 3
	}
	recursive := NewRecursiveStrategy(chunkSize, overlap)
	return &MarkdownStrategy{
		chunkSize: recursive.chunkSize,
		maxLevel:  maxHeadingLevel,
		recursive: recursive,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Name 策略名称
func (s *MarkdownStrategy) Name() string {
	return string(ByMarkdown)
}

// Supports 支持Markdown和纯文本
func (s *MarkdownStrategy) Supports(mimeType string) bool {
	return IsMarkdown(mimeType) || mimeType == MimePlainText
}

// section 一个标题及其下属内容
type section struct {
	start   int
	heading string
	level   int
}

// Spans 计算分块区间
func (s *MarkdownStrategy) Spans(content, _ string) ([]Span, error) {
	sections := s.sections(content)

	var spans []Span
	for i, sec := range sections {
		end := len(content)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}

		var meta map[string]any
		if sec.level > 0 {
			meta = map[string]any{
				MetaHeading:      sec.heading,
				MetaHeadingLevel: sec.level,
			}
		}

		start, stop, ok := trimSpan(content, sec.start, end)
		if !ok {
			continue
		}
		if stop-start > s.chunkSize {
			spans = append(spans, s.recursive.spansIn(content, start, stop, meta)...)
			continue
		}
		spans = append(spans, Span{Start: start, End: stop, Meta: meta})
	}
	return spans, nil
}

// sections 解析文档，返回按位置排序的章节（第一个章节可能没有标题）
func (s *MarkdownStrategy) sections(content string) []section {
	source := []byte(content)
	root := s.md.Parser().Parse(text.NewReader(source))

	sections := []section{{start: 0}}
	// 只看顶层标题，引用块和列表中的标题不作为章节边界
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > s.maxLevel || h.Lines().Len() == 0 {
			continue
		}
		start := lineStart(content, h.Lines().At(0).Start)
		title := strings.TrimSpace(string(h.Text(source)))

		if start == 0 {
			sections[0] = section{start: 0, heading: title, level: h.Level}
			continue
		}
		sections = append(sections, section{start: start, heading: title, level: h.Level})
	}
	return sections
}

// lineStart 返回pos所在行的起始位置
func lineStart(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	if i := strings.LastIndexByte(content[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
