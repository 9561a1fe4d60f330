package document

import (
	"unicode/utf8"
)

// LengthStrategy 按固定长度分割
// 尽量在空白处断开，重叠部分不超过overlap字节
type LengthStrategy struct {
	chunkSize int
	overlap   int
}

// NewLengthStrategy 创建按长度分割的策略
func NewLengthStrategy(chunkSize, overlap int) *LengthStrategy {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &LengthStrategy{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Name 策略名称
func (s *LengthStrategy) Name() string {
	return string(ByLength)
}

// Supports 支持所有文本类型
func (s *LengthStrategy) Supports(mimeType string) bool {
	return IsTextual(mimeType)
}

// Spans 计算分块区间
func (s *LengthStrategy) Spans(content, _ string) ([]Span, error) {
	return s.window(content, 0, len(content), nil), nil
}

// window 对[from, to)区间按长度切分
func (s *LengthStrategy) window(text string, from, to int, meta map[string]any) []Span {
	var spans []Span

	start := from
	for start < to {
		end := start + s.chunkSize
		if end >= to {
			end = to
		} else {
			// 尝试在空格处断开，避免单词被截断
			cut := end
			for cut > start && !isSpaceByte(text[cut]) {
				cut--
			}
			if cut > start {
				end = cut
			} else {
				// 找不到空白就在原位置截断，但不能切开一个字符
				end = alignRuneBackward(text, end, start)
				if end <= start {
					end = alignRuneForward(text, start+1, to)
				}
			}
		}

		spans = appendTrimmed(spans, text, start, end, meta)
		if end >= to {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		} else if next < end {
			next = alignRuneForward(text, next, end)
			// 重叠部分从单词开头开始
			for i := next; i < end && !isSpaceByte(text[next-1]); i++ {
				if isSpaceByte(text[i]) {
					next = i + 1
					break
				}
			}
		}
		start = next
	}

	return spans
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// alignRuneBackward 向前移动到字符起始位置，不小于min
func alignRuneBackward(text string, i, min int) int {
	for i > min && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// alignRuneForward 向后移动到字符起始位置，不大于max
func alignRuneForward(text string, i, max int) int {
	for i < max && i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}
