package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/google/uuid"
)

// ErrUnsupportedFormat 不支持的文件格式
var ErrUnsupportedFormat = errors.New("unsupported document format")

// 加载时写入的元数据字段
const (
	MetaFilename = "filename"
	MetaTitle    = "title"
	MetaPages    = "pages"
	MetaSheets   = "sheets"
	MetaFileID   = "file_id"
)

// Loader 文档加载器接口
// 负责把不同格式的文件转换为可切分的文本文档
type Loader interface {
	// Load 从Reader加载文档，filename用于确定类型和来源
	Load(r io.Reader, filename string) (*document.LoadedDocument, error)
}

// Format 文件格式
type Format string

const (
	// PDF 文档
	PDF Format = "pdf"
	// Markdown 文档
	Markdown Format = "markdown"
	// PlainText 纯文本和源代码
	PlainText Format = "plaintext"
	// Excel 表格
	Excel Format = "excel"
	// Unknown 未知格式
	Unknown Format = "unknown"
)

// DetectFormat 根据文件扩展名检测格式
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".xlsx":
		return Excel
	}
	if document.IsTextual(storage.MimeTypeByExt(filename)) {
		return PlainText
	}
	return Unknown
}

// LoaderFactory 根据文件类型创建对应的加载器
func LoaderFactory(filename string) (Loader, error) {
	switch DetectFormat(filename) {
	case PDF:
		return NewPDFLoader(), nil
	case Markdown:
		return NewMarkdownLoader(), nil
	case Excel:
		return NewExcelLoader(), nil
	case PlainText:
		return NewPlainTextLoader(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// LoadFile 加载本地文件
func LoadFile(path string) (*document.LoadedDocument, error) {
	l, err := LoaderFactory(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	doc, err := l.Load(file, path)
	if err != nil {
		return nil, err
	}
	doc.Source = path
	return doc, nil
}

// LoadFromStorage 从存储中加载文件，filename为空时使用存储记录的文件名
func LoadFromStorage(s storage.Storage, fileID, filename string) (*document.LoadedDocument, error) {
	if filename == "" {
		info, err := s.Stat(fileID)
		if err != nil {
			return nil, err
		}
		filename = info.Name
	}

	l, err := LoaderFactory(filename)
	if err != nil {
		return nil, err
	}

	rc, err := s.Get(fileID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	doc, err := l.Load(rc, filename)
	if err != nil {
		return nil, err
	}
	doc.ID = fileID
	doc.WithMetadata(MetaFileID, fileID)
	return doc, nil
}

// newDocument 创建带有通用元数据的文档
func newDocument(content, filename, mimeType string) *document.LoadedDocument {
	doc := document.NewLoadedDocument(uuid.New().String(), content, filename, mimeType, nil)
	doc.WithMetadata(MetaFilename, filepath.Base(filename))
	return doc
}

// readAll 读取全部内容，错误信息带上格式名称
func readAll(r io.Reader, kind string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s content: %w", kind, err)
	}
	return data, nil
}
