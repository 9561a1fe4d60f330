package document

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// 常用的内容类型
const (
	MimePlainText = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimeHTML      = "text/html"
	MimeCSV       = "text/csv"
	MimeJSON      = "application/json"
	MimePDF       = "application/pdf"
	MimeGo        = "text/x-go"
	MimePython    = "text/x-python"
	MimeJava      = "text/x-java"
	MimeJS        = "text/javascript"
	MimeTS        = "text/typescript"
)

// codeLanguages 代码类型到语言名称的映射
var codeLanguages = map[string]string{
	MimeGo:                     "go",
	"text/x-golang":            "go",
	MimePython:                 "python",
	"application/x-python":     "python",
	"text/x-script.python":     "python",
	MimeJava:                   "java",
	"text/x-java-source":       "java",
	MimeJS:                     "javascript",
	"application/javascript":   "javascript",
	"application/x-javascript": "javascript",
	MimeTS:                     "typescript",
	"application/typescript":   "typescript",
	"text/x-typescript":        "typescript",
}

// NormalizeMimeType 规范化内容类型：小写并去掉参数
func NormalizeMimeType(mt string) string {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// DetectMimeType 根据内容检测类型
func DetectMimeType(content string) string {
	return NormalizeMimeType(mimetype.Detect([]byte(content)).String())
}

// IsMarkdown 是否为Markdown类型
func IsMarkdown(mt string) bool {
	return mt == MimeMarkdown || mt == "text/x-markdown"
}

// CodeLanguage 返回代码类型对应的语言
func CodeLanguage(mt string) (string, bool) {
	lang, ok := codeLanguages[mt]
	return lang, ok
}

// IsTextual 是否为文本类内容，二进制类型返回false
func IsTextual(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	if _, ok := codeLanguages[mt]; ok {
		return true
	}
	switch mt {
	case MimeJSON, "application/xml", "application/x-yaml", "application/yaml", "application/x-ndjson":
		return true
	}
	return strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml")
}
