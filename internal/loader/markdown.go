package loader

import (
	"io"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownLoader Markdown文档加载器
// 保留原始Markdown作为内容，便于按标题切分；第一个标题作为文档标题
type MarkdownLoader struct{}

// NewMarkdownLoader 创建Markdown加载器
func NewMarkdownLoader() Loader {
	return &MarkdownLoader{}
}

// Load 加载Markdown文档
func (l *MarkdownLoader) Load(r io.Reader, filename string) (*document.LoadedDocument, error) {
	data, err := readAll(r, "markdown")
	if err != nil {
		return nil, err
	}

	doc := newDocument(string(data), filename, document.MimeMarkdown)
	if title := extractTitle(data); title != "" {
		doc.WithMetadata(MetaTitle, title)
	}
	return doc, nil
}

// extractTitle 返回级别最高的第一个标题文本
func extractTitle(data []byte) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	root := p.Parse(data)

	var (
		title string
		level = 7
	)
	ast.WalkFunc(root, func(node ast.Node, entering bool) ast.WalkStatus {
		h, ok := node.(*ast.Heading)
		if !ok || !entering {
			return ast.GoToNext
		}
		if h.Level < level {
			level = h.Level
			title = headingText(h)
		}
		return ast.SkipChildren
	})
	return title
}

// headingText 拼接标题中的文本节点
func headingText(h *ast.Heading) string {
	var b strings.Builder
	ast.WalkFunc(h, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch n := node.(type) {
		case *ast.Text:
			b.Write(n.Literal)
		case *ast.Code:
			b.Write(n.Literal)
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}
