package document

// LoadedDocument 加载后的原始文档
// 由上游加载器产生，交给分段器切分成Document
type LoadedDocument struct {
	ID       string         `json:"id"`        // 文档ID，由调用方或加载器分配
	Content  string         `json:"content"`   // 原始文本内容，可以为空字符串
	Source   string         `json:"source"`    // 来源信息（文件路径、URL等）
	MimeType string         `json:"mime_type"` // 声明的内容类型
	Metadata map[string]any `json:"metadata"`  // 元数据
}

// NewLoadedDocument 创建加载文档
// metadata为nil时初始化为空映射
func NewLoadedDocument(id, content, source, mimeType string, metadata map[string]any) *LoadedDocument {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &LoadedDocument{
		ID:       id,
		Content:  content,
		Source:   source,
		MimeType: mimeType,
		Metadata: metadata,
	}
}

// WithMetadata 写入一条元数据并返回文档本身，便于链式调用
// 不对key和value做校验，空key和nil值都会被接受
func (d *LoadedDocument) WithMetadata(key string, value any) *LoadedDocument {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
	return d
}

// GetMetadata 返回元数据映射，保证不为nil
func (d *LoadedDocument) GetMetadata() map[string]any {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	return d.Metadata
}

// MetadataValue 查询单个元数据
func (d *LoadedDocument) MetadataValue(key string) (any, bool) {
	v, ok := d.GetMetadata()[key]
	return v, ok
}
