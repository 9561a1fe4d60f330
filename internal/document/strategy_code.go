package document

import (
	"regexp"
	"strings"
)

// codePatterns 语言对应的函数和类型定义的正则
type codePatterns struct {
	function *regexp.Regexp
	class    *regexp.Regexp
}

var languagePatterns = map[string]codePatterns{
	"go": {
		function: regexp.MustCompile(`^func\s+(\([^)]*\)\s*)?\w+\s*(\[[^\]]*\])?\s*\(`),
		class:    regexp.MustCompile(`^type\s+\w+(\[[^\]]*\])?\s+(struct|interface)\b`),
	},
	"java": {
		function: regexp.MustCompile(`^\s*((public|private|protected|static|final|abstract|synchronized)\s+)*[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)\s*(throws\s+[\w.,\s]+)?\{?\s*$`),
		class:    regexp.MustCompile(`^\s*((public|private|protected|static|final|abstract)\s+)*(class|interface|enum|record)\s+\w+`),
	},
	"python": {
		function: regexp.MustCompile(`^\s*(async\s+)?def\s+\w+\s*\(`),
		class:    regexp.MustCompile(`^\s*class\s+\w+`),
	},
	"javascript": {
		function: regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(async\s+)?function\*?\s+\w+\s*\(|^\s*(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?(function\b|\([^)]*\)\s*=>)`),
		class:    regexp.MustCompile(`^\s*(export\s+)?(default\s+)?class\s+\w+`),
	},
	"typescript": {
		function: regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(async\s+)?function\*?\s+\w+\s*[(<]|^\s*(export\s+)?(const|let|var)\s+\w+(\s*:\s*[^=]+)?\s*=\s*(async\s+)?(function\b|\([^)]*\)\s*(:\s*[^=]+)?=>)`),
		class:    regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(abstract\s+)?(class|interface|enum)\s+\w+|^\s*(export\s+)?type\s+\w+\s*=`),
	},
}

// genericPatterns 未知语言使用的通用规则
var genericPatterns = codePatterns{
	function: regexp.MustCompile(`^\s*(function\s+\w+|def\s+\w+|func\s+\w+|fn\s+\w+)`),
	class:    regexp.MustCompile(`^\s*(class\s+\w+|type\s+\w+|struct\s+\w+|interface\s+\w+)`),
}

// CodeStrategy 按代码结构分割
// 以函数、类型定义所在行作为边界，定义前的注释和注解跟随定义；
// 超长的代码块在换行处再切分
type CodeStrategy struct {
	chunkSize int
	language  string
}

// NewCodeStrategy 创建代码分割策略，language为未能从类型识别语言时的默认值
func NewCodeStrategy(chunkSize int, language string) *CodeStrategy {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &CodeStrategy{
		chunkSize: chunkSize,
		language:  strings.ToLower(strings.TrimSpace(language)),
	}
}

// Name 策略名称
func (s *CodeStrategy) Name() string {
	return string(ByCode)
}

// Supports 支持源代码类型；配置了默认语言时也接受纯文本
func (s *CodeStrategy) Supports(mimeType string) bool {
	if _, ok := CodeLanguage(mimeType); ok {
		return true
	}
	return s.language != "" && mimeType == MimePlainText
}

// Spans 计算分块区间
func (s *CodeStrategy) Spans(content, mimeType string) ([]Span, error) {
	lang := s.languageOf(mimeType)
	meta := map[string]any{MetaLanguage: lang}

	start, end, ok := trimSpan(content, 0, len(content))
	if !ok {
		return nil, nil
	}
	if end-start <= s.chunkSize {
		return []Span{{Start: start, End: end, Meta: meta}}, nil
	}

	var spans []Span
	prev := 0
	for _, boundary := range s.boundaries(content, lang) {
		spans = s.appendBlock(spans, content, prev, boundary, meta)
		prev = boundary
	}
	return s.appendBlock(spans, content, prev, len(content), meta), nil
}

func (s *CodeStrategy) languageOf(mimeType string) string {
	if lang, ok := CodeLanguage(mimeType); ok {
		return lang
	}
	if s.language != "" {
		return s.language
	}
	return "unknown"
}

// boundaries 返回函数和类型定义的起始偏移（行首）
func (s *CodeStrategy) boundaries(content, lang string) []int {
	patterns, ok := languagePatterns[lang]
	if !ok {
		patterns = genericPatterns
	}

	var (
		out       []int
		offset    int
		leadStart = -1 // 连续注释块的起始位置
	)
	for offset < len(content) {
		lineEnd := strings.IndexByte(content[offset:], '\n')
		next := len(content)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
		}
		line := strings.TrimRight(content[offset:next], "\r\n")

		switch {
		case patterns.function.MatchString(line) || patterns.class.MatchString(line):
			at := offset
			if leadStart >= 0 {
				at = leadStart
			}
			if at > 0 && (len(out) == 0 || out[len(out)-1] < at) {
				out = append(out, at)
			}
			leadStart = -1
		case isLeadingLine(line):
			if leadStart < 0 {
				leadStart = offset
			}
		default:
			leadStart = -1
		}
		offset = next
	}
	return out
}

// isLeadingLine 注释和注解行，属于紧随其后的定义
func isLeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"//", "#", "/*", "*", "@", "\"\"\""} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// appendBlock 追加一个代码块，超长时在换行处切分
func (s *CodeStrategy) appendBlock(spans []Span, text string, start, end int, meta map[string]any) []Span {
	start, end, ok := trimSpan(text, start, end)
	if !ok {
		return spans
	}

	for start < end {
		cut := start + s.chunkSize
		if cut >= end {
			return appendTrimmed(spans, text, start, end, meta)
		}
		// 在后半段寻找换行
		if i := strings.LastIndexByte(text[start+s.chunkSize/2:cut], '\n'); i >= 0 {
			cut = start + s.chunkSize/2 + i + 1
		} else {
			cut = alignRuneBackward(text, cut, start)
			if cut <= start {
				cut = alignRuneForward(text, start+1, end)
			}
		}
		spans = appendTrimmed(spans, text, start, cut, meta)
		start = cut
	}
	return spans
}
