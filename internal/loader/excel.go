package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/xuri/excelize/v2"
)

// ExcelLoader Excel表格加载器
// 每个工作表渲染为一段文本，数据行写成 "表名: 列名=值" 的形式，工作表之间以空行分隔
type ExcelLoader struct{}

// NewExcelLoader 创建Excel加载器
func NewExcelLoader() Loader {
	return &ExcelLoader{}
}

// Load 加载Excel文档
func (l *ExcelLoader) Load(r io.Reader, filename string) (*document.LoadedDocument, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		sections []string
		sheets   []string
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if text := renderSheet(sheet, rows); text != "" {
			sections = append(sections, text)
			sheets = append(sheets, sheet)
		}
	}

	doc := newDocument(strings.Join(sections, "\n\n"), filename, document.MimePlainText)
	doc.WithMetadata(MetaSheets, sheets)
	return doc, nil
}

// renderSheet 第一行作为表头，其余每行一行文本
func renderSheet(sheet string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header := rows[0]

	var b strings.Builder
	if len(rows) == 1 {
		b.WriteString(sheet)
		b.WriteString(": ")
		b.WriteString(strings.Join(header, ", "))
		return b.String()
	}

	for _, row := range rows[1:] {
		var cells []string
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			name := fmt.Sprintf("column%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			cells = append(cells, name+"="+v)
		}
		if len(cells) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sheet)
		b.WriteString(": ")
		b.WriteString(strings.Join(cells, ", "))
	}
	return b.String()
}
