package model

import (
	"encoding/json"
	"mime/multipart"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/google/uuid"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 当前页的偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// SplitterRequest 切分参数，未设置的字段使用服务默认值
type SplitterRequest struct {
	SplitType       string   `form:"split_type" json:"split_type" binding:"omitempty,oneof=paragraph sentence length recursive markdown code auto"`
	ChunkSize       int      `form:"chunk_size" json:"chunk_size" binding:"omitempty,min=1"`
	ChunkOverlap    int      `form:"chunk_overlap" json:"chunk_overlap" binding:"omitempty,min=0"`
	MaxChunks       int      `form:"max_chunks" json:"max_chunks" binding:"omitempty,min=0"`
	Separators      []string `form:"separators" json:"separators" binding:"omitempty"`
	MaxHeadingLevel int      `form:"max_heading_level" json:"max_heading_level" binding:"omitempty,min=1,max=6"`
	Language        string   `form:"language" json:"language" binding:"omitempty"`
}

// ToConfig 转换为切分配置
func (r SplitterRequest) ToConfig() document.SplitterConfig {
	return document.SplitterConfig{
		SplitType:       document.SplitType(r.SplitType),
		ChunkSize:       r.ChunkSize,
		ChunkOverlap:    r.ChunkOverlap,
		MaxChunks:       r.MaxChunks,
		Separators:      r.Separators,
		MaxHeadingLevel: r.MaxHeadingLevel,
		Language:        r.Language,
	}
}

// DocumentInput 请求中直接提交的文档
type DocumentInput struct {
	ID       string         `json:"id"`                                    // 文档ID，为空时自动生成
	Content  string         `json:"content"`                               // 文档内容
	MimeType string         `json:"mime_type" binding:"omitempty,max=255"` // 内容类型，为空时自动检测
	Source   string         `json:"source"`                                // 来源
	Metadata map[string]any `json:"metadata"`                              // 元数据
}

// ToLoaded 转换为待切分的文档，没有ID时生成一个
func (d DocumentInput) ToLoaded() *document.LoadedDocument {
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	return document.NewLoadedDocument(id, d.Content, d.Source, d.MimeType, d.Metadata)
}

// SplitRequest 同步切分请求
type SplitRequest struct {
	Documents []DocumentInput `json:"documents" binding:"required,min=1,dive"`  // 待切分文档
	Splitter  SplitterRequest `json:"splitter"`                                 // 切分参数
	Workers   int             `json:"workers" binding:"omitempty,min=1,max=64"` // 并发数
	FailFast  bool            `json:"fail_fast"`                                // 遇到失败立即中止
}

// LoadedDocuments 转换请求中的文档
func (r *SplitRequest) LoadedDocuments() []*document.LoadedDocument {
	docs := make([]*document.LoadedDocument, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = d.ToLoaded()
	}
	return docs
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File     *multipart.FileHeader `form:"file" binding:"required"` // 文件对象
	Metadata string                `form:"metadata"`                // 文档元数据，JSON对象
	Async    bool                  `form:"async"`                   // 是否异步切分
	SplitterRequest
}

// ParseMetadata 解析上传时附带的元数据
func (r *DocumentUploadRequest) ParseMetadata() (map[string]any, error) {
	if r.Metadata == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// FileInput 批次中引用的已上传文件
type FileInput struct {
	FileID   string         `json:"file_id" binding:"required"` // 存储中的文件ID
	Filename string         `json:"filename"`                   // 文件名，为空时使用存储记录的文件名
	Metadata map[string]any `json:"metadata"`                   // 附加元数据
}

// BatchRequest 异步批量切分请求
type BatchRequest struct {
	Files     []FileInput     `json:"files" binding:"omitempty,dive"`           // 已上传的文件
	Documents []DocumentInput `json:"documents" binding:"omitempty,dive"`       // 直接提交的文档
	Splitter  SplitterRequest `json:"splitter"`                                 // 切分参数
	Workers   int             `json:"workers" binding:"omitempty,min=1,max=64"` // 并发数
	FailFast  bool            `json:"fail_fast"`                                // 遇到失败立即中止
}

// ToPayload 转换为任务负载
func (r *BatchRequest) ToPayload() *taskqueue.SplitBatchPayload {
	payload := &taskqueue.SplitBatchPayload{
		Splitter: r.Splitter.ToConfig(),
		Workers:  r.Workers,
		FailFast: r.FailFast,
	}
	for _, f := range r.Files {
		payload.Files = append(payload.Files, taskqueue.FileRef{
			FileID:   f.FileID,
			Filename: f.Filename,
			Metadata: f.Metadata,
		})
	}
	for _, d := range r.Documents {
		payload.Documents = append(payload.Documents, d.ToLoaded())
	}
	return payload
}

// IDRequest 路径中的资源ID
type IDRequest struct {
	ID string `uri:"id" binding:"required"` // 资源ID
}

// TaskWaitRequest 任务查询参数
type TaskWaitRequest struct {
	Wait int `form:"wait" binding:"omitempty,min=0,max=60"` // 等待任务结束的秒数
}

// JobListRequest 作业列表请求
type JobListRequest struct {
	PaginationRequest
	Status   string `form:"status" binding:"omitempty,oneof=pending processing completed partial failed cancelled"` // 作业状态
	Strategy string `form:"strategy" binding:"omitempty"`                                                           // 切分策略
	Mode     string `form:"mode" binding:"omitempty,oneof=sync async"`                                              // 执行方式
}
