package document

import (
	"strings"
)

// DefaultSeparators 递归分割默认使用的分隔符，优先级从高到低
var DefaultSeparators = []string{"\n\n", "\n", "。", ". ", " ", ""}

// RecursiveStrategy 按分隔符递归分割
// 先用优先级最高的分隔符切开，超长的片段再用下一个分隔符，
// 相邻的短片段合并到chunkSize以内，并保留overlap以内的重叠
type RecursiveStrategy struct {
	chunkSize  int
	overlap    int
	separators []string
	length     *LengthStrategy
}

// NewRecursiveStrategy 创建递归分割策略
func NewRecursiveStrategy(chunkSize, overlap int, separators ...string) *RecursiveStrategy {
	length := NewLengthStrategy(chunkSize, overlap)
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveStrategy{
		chunkSize:  length.chunkSize,
		overlap:    length.overlap,
		separators: separators,
		length:     length,
	}
}

// Name 策略名称
func (s *RecursiveStrategy) Name() string {
	return string(ByRecursive)
}

// Supports 支持所有文本类型
func (s *RecursiveStrategy) Supports(mimeType string) bool {
	return IsTextual(mimeType)
}

// Spans 计算分块区间
func (s *RecursiveStrategy) Spans(content, _ string) ([]Span, error) {
	return s.spansIn(content, 0, len(content), nil), nil
}

// spansIn 对[from, to)区间递归分割，并给每个区间附加meta
func (s *RecursiveStrategy) spansIn(text string, from, to int, meta map[string]any) []Span {
	if from >= to {
		return nil
	}
	return withMeta(s.split(text, from, to, s.separators), meta)
}

func (s *RecursiveStrategy) split(text string, from, to int, separators []string) []Span {
	sep, rest := pickSeparator(text[from:to], separators)
	if sep == "" {
		return s.length.window(text, from, to, nil)
	}

	var spans []Span
	var pending [][2]int
	for _, piece := range splitRanges(text, from, to, sep) {
		if piece[1]-piece[0] <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}

		spans = append(spans, s.merge(text, pending)...)
		pending = nil

		if len(rest) == 0 {
			spans = append(spans, s.length.window(text, piece[0], piece[1], nil)...)
		} else {
			spans = append(spans, s.split(text, piece[0], piece[1], rest)...)
		}
	}
	return append(spans, s.merge(text, pending)...)
}

// merge 合并相邻片段，每个区间不超过chunkSize
func (s *RecursiveStrategy) merge(text string, pieces [][2]int) []Span {
	if len(pieces) == 0 {
		return nil
	}

	var spans []Span
	first := 0
	for i := 1; i < len(pieces); i++ {
		if pieces[i][1]-pieces[first][0] <= s.chunkSize {
			continue
		}
		spans = appendTrimmed(spans, text, pieces[first][0], pieces[i-1][1], nil)

		// 保留末尾的片段作为重叠，同时保证加上当前片段后不超长
		for first < i && (pieces[i-1][1]-pieces[first][0] > s.overlap || pieces[i][1]-pieces[first][0] > s.chunkSize) {
			first++
		}
	}
	return appendTrimmed(spans, text, pieces[first][0], pieces[len(pieces)-1][1], nil)
}

// pickSeparator 选出片段中存在的第一个分隔符，返回剩余的低优先级分隔符
func pickSeparator(segment string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" || strings.Contains(segment, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// splitRanges 按分隔符切开[from, to)，返回去掉首尾空白后的非空片段
func splitRanges(text string, from, to int, sep string) [][2]int {
	var pieces [][2]int
	add := func(start, end int) {
		if start, end, ok := trimSpan(text, start, end); ok {
			pieces = append(pieces, [2]int{start, end})
		}
	}

	pos := from
	for pos < to {
		idx := strings.Index(text[pos:to], sep)
		if idx < 0 {
			break
		}
		// 分隔符本身留在前一个片段中（例如句号）
		end := pos + idx + len(sep)
		add(pos, end)
		pos = end
	}
	if pos < to {
		add(pos, to)
	}
	return pieces
}
