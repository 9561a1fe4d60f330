package loader

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
)

// PlainTextLoader 纯文本加载器，也用于CSV、JSON和源代码
type PlainTextLoader struct{}

// NewPlainTextLoader 创建纯文本加载器
func NewPlainTextLoader() Loader {
	return &PlainTextLoader{}
}

// Load 加载纯文本，内容类型由扩展名决定
func (l *PlainTextLoader) Load(r io.Reader, filename string) (*document.LoadedDocument, error) {
	data, err := readAll(r, "text")
	if err != nil {
		return nil, err
	}

	mimeType := storage.MimeTypeByExt(filename)
	if !document.IsTextual(mimeType) {
		// 扩展名无法判断时交给内容检测
		mimeType = ""
	}

	content := string(data)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
	}
	return newDocument(content, filename, mimeType), nil
}
