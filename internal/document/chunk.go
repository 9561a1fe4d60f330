package document

import (
	"fmt"
	"strings"
)

// 分块元数据中的溯源字段
const (
	MetaDocumentID = "document_id"
	MetaSource     = "source"
	MetaMimeType   = "mime_type"
	MetaChunkIndex = "chunk_index"
	MetaChunkStart = "chunk_start"
	MetaChunkEnd   = "chunk_end"
	MetaStrategy   = "strategy"
	MetaHeading    = "heading"
	MetaLanguage   = "language"
)

// Document 分块文档
// 对应向量库中的一个可嵌入单元，Text等于原文Content[Start:End]
type Document struct {
	ID       string         `json:"id"`       // 分块ID：<文档ID>#<序号>
	Text     string         `json:"text"`     // 分块文本
	Index    int            `json:"index"`    // 在原文档中的序号
	Start    int            `json:"start"`    // 原文中的起始字节偏移
	End      int            `json:"end"`      // 原文中的结束字节偏移（不含）
	Metadata map[string]any `json:"metadata"` // 元数据，包含溯源信息
}

// Span 原文中的一个区间
// 策略只负责计算区间，Pipeline负责组装Document
type Span struct {
	Start int            `json:"start"`
	End   int            `json:"end"`
	Meta  map[string]any `json:"meta,omitempty"` // 策略附加的元数据（可选）
}

// Len 返回区间长度
func (s Span) Len() int {
	return s.End - s.Start
}

// ChunkID 生成分块ID
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}

// newChunk 根据区间构造分块文档
// 先复制原文档元数据，再写入溯源字段，溯源字段优先级最高
func newChunk(doc *LoadedDocument, mimeType, strategy string, index int, span Span) Document {
	meta := make(map[string]any, len(doc.Metadata)+len(span.Meta)+7)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[MetaStrategy] = strategy
	// 策略附加的字段可以覆盖strategy（例如auto路由到具体策略）
	for k, v := range span.Meta {
		meta[k] = v
	}
	meta[MetaDocumentID] = doc.ID
	meta[MetaSource] = doc.Source
	meta[MetaMimeType] = mimeType
	meta[MetaChunkIndex] = index
	meta[MetaChunkStart] = span.Start
	meta[MetaChunkEnd] = span.End

	return Document{
		ID:       ChunkID(doc.ID, index),
		Text:     doc.Content[span.Start:span.End],
		Index:    index,
		Start:    span.Start,
		End:      span.End,
		Metadata: meta,
	}
}

// trimSpan 去掉区间首尾的空白，返回是否还有内容
func trimSpan(text string, start, end int) (int, int, bool) {
	seg := text[start:end]
	left := len(seg) - len(strings.TrimLeft(seg, " \t\r\n\f\v"))
	right := len(strings.TrimRight(seg, " \t\r\n\f\v"))
	if left >= right {
		return start, start, false
	}
	return start + left, start + right, true
}

// appendTrimmed 去掉空白后追加区间，空区间被忽略
func appendTrimmed(spans []Span, text string, start, end int, meta map[string]any) []Span {
	s, e, ok := trimSpan(text, start, end)
	if !ok {
		return spans
	}
	return append(spans, Span{Start: s, End: e, Meta: meta})
}

// withMeta 给一组区间附加相同的元数据
func withMeta(spans []Span, meta map[string]any) []Span {
	if len(meta) == 0 {
		return spans
	}
	for i := range spans {
		spans[i].Meta = mergeMeta(meta, spans[i].Meta)
	}
	return spans
}

func mergeMeta(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
