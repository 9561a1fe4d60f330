package loader

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFLoader PDF文档加载器
// pdfcpu负责校验文件结构和统计页数，文字由ledongthuc/pdf按字体编码解出，页与页之间以空行分隔
type PDFLoader struct{}

// NewPDFLoader 创建PDF加载器
func NewPDFLoader() Loader {
	return &PDFLoader{}
}

// Load 加载PDF文档
func (l *PDFLoader) Load(r io.Reader, filename string) (*document.LoadedDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf content: %w", err)
	}

	pages, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}

	texts, err := extractPages(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from PDF: %w", err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("no text content found in PDF")
	}

	doc := newDocument(strings.Join(texts, "\n\n"), filename, document.MimePlainText)
	doc.WithMetadata(MetaPages, pages)
	return doc, nil
}

// extractPages 逐页取出文字，跳过没有文字的页
func extractPages(data []byte) (texts []string, err error) {
	// 损坏的对象会让解析器panic
	defer func() {
		if rec := recover(); rec != nil {
			texts, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	// 字体在页之间共享，缓存后不必重复解析编码表
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}
