package document

import (
	"unicode"
	"unicode/utf8"
)

// SentenceStrategy 按句子分割
// 每个句子一个分块，超长句子再按长度分割
type SentenceStrategy struct {
	chunkSize int
	length    *LengthStrategy
}

// NewSentenceStrategy 创建按句子分割的策略
func NewSentenceStrategy(chunkSize, overlap int) *SentenceStrategy {
	length := NewLengthStrategy(chunkSize, overlap)
	return &SentenceStrategy{
		chunkSize: length.chunkSize,
		length:    length,
	}
}

// Name 策略名称
func (s *SentenceStrategy) Name() string {
	return string(BySentence)
}

// Supports 支持所有文本类型
func (s *SentenceStrategy) Supports(mimeType string) bool {
	return IsTextual(mimeType)
}

// Spans 计算分块区间
func (s *SentenceStrategy) Spans(content, _ string) ([]Span, error) {
	var spans []Span
	for _, sentence := range sentenceBounds(content) {
		start, end, ok := trimSpan(content, sentence[0], sentence[1])
		if !ok {
			continue
		}
		if end-start > s.chunkSize {
			spans = append(spans, s.length.window(content, start, end, nil)...)
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans, nil
}

// sentenceBounds 返回每个句子的[start, end)区间（未去除空白）
func sentenceBounds(text string) [][2]int {
	var bounds [][2]int
	start := 0

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size

		switch {
		case isCJKTerminator(r):
			// 连续的结束符作为同一个句子的结尾
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if next >= len(text) || !isCJKTerminator(nr) {
				bounds = append(bounds, [2]int{start, next})
				start = next
			}
		case r == '.' || r == '!' || r == '?':
			// 英文句号后必须跟空白或文本结尾，避免切开小数和缩写中间
			if next >= len(text) {
				bounds = append(bounds, [2]int{start, next})
				start = next
			} else if nr, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsSpace(nr) {
				bounds = append(bounds, [2]int{start, next})
				start = next
			}
		case r == '\n':
			// 空行也是句子边界（标题、列表等没有标点的行）
			j := next
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && text[j] == '\n' {
				bounds = append(bounds, [2]int{start, i})
				start = i
			}
		}
		i = next
	}

	if start < len(text) {
		bounds = append(bounds, [2]int{start, len(text)})
	}
	return bounds
}

func isCJKTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '；':
		return true
	}
	return false
}
