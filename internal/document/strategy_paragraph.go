package document

import (
	"regexp"
)

// paragraphBreak 空行（允许中间有空白和\r）
var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// ParagraphStrategy 按段落分割
// 段落之间以空行分隔，超长段落再按长度分割
type ParagraphStrategy struct {
	chunkSize int
	length    *LengthStrategy
}

// NewParagraphStrategy 创建按段落分割的策略
func NewParagraphStrategy(chunkSize, overlap int) *ParagraphStrategy {
	length := NewLengthStrategy(chunkSize, overlap)
	return &ParagraphStrategy{
		chunkSize: length.chunkSize,
		length:    length,
	}
}

// Name 策略名称
func (s *ParagraphStrategy) Name() string {
	return string(ByParagraph)
}

// Supports 支持所有文本类型
func (s *ParagraphStrategy) Supports(mimeType string) bool {
	return IsTextual(mimeType)
}

// Spans 计算分块区间
func (s *ParagraphStrategy) Spans(content, _ string) ([]Span, error) {
	var spans []Span

	start := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(content, -1) {
		spans = s.appendParagraph(spans, content, start, loc[0])
		start = loc[1]
	}
	spans = s.appendParagraph(spans, content, start, len(content))

	return spans, nil
}

// appendParagraph 追加一个段落，过长的段落按长度再分割
func (s *ParagraphStrategy) appendParagraph(spans []Span, text string, start, end int) []Span {
	start, end, ok := trimSpan(text, start, end)
	if !ok {
		return spans
	}
	if end-start > s.chunkSize {
		return append(spans, s.length.window(text, start, end, nil)...)
	}
	return append(spans, Span{Start: start, End: end})
}
