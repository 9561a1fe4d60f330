package taskqueue

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskSplitBatch 批量加载并切分文档的任务
	TaskSplitBatch TaskType = "split_batch"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
	// StatusCancelled 已取消
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal 任务是否已经结束
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`               // 任务唯一标识符
	Type        TaskType        `json:"type"`             // 任务类型
	JobID       string          `json:"job_id"`           // 关联的切分作业ID
	Status      TaskStatus      `json:"status"`           // 任务状态
	Payload     json.RawMessage `json:"payload"`          // 任务载荷数据
	Result      json.RawMessage `json:"result,omitempty"` // 任务结果数据，结束前为空
	Error       string          `json:"error"`            // 错误信息（如果处理失败）
	Progress    int             `json:"progress"`         // 处理进度（0-100）
	Message     string          `json:"message"`          // 进度消息
	CreatedAt   time.Time       `json:"created_at"`       // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`       // 更新时间
	StartedAt   *time.Time      `json:"started_at"`       // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"`     // 完成时间
	Attempts    int             `json:"attempts"`         // 尝试次数
	MaxRetries  int             `json:"max_retries"`      // 最大重试次数
}

// FileRef 存储中的一个待切分文件
type FileRef struct {
	FileID   string         `json:"file_id"`            // 存储中的文件ID
	Filename string         `json:"filename,omitempty"` // 文件名，为空时从存储中查询
	Metadata map[string]any `json:"metadata,omitempty"` // 附加到文档上的元数据
}

// SplitBatchPayload 批量切分任务载荷
// Files中的文件先从存储加载，排在Documents之前
type SplitBatchPayload struct {
	Files     []FileRef                  `json:"files,omitempty"`     // 存储中的文件
	Documents []*document.LoadedDocument `json:"documents,omitempty"` // 直接提交的文档
	Splitter  document.SplitterConfig    `json:"splitter"`            // 切分配置
	Workers   int                        `json:"workers,omitempty"`   // 并发数
	FailFast  bool                       `json:"fail_fast,omitempty"` // 遇到失败立即中止
}

// DocumentCount 载荷中的文档总数
func (p *SplitBatchPayload) DocumentCount() int {
	return len(p.Files) + len(p.Documents)
}

// SplitBatchResult 批量切分任务结果
type SplitBatchResult struct {
	JobID      string              `json:"job_id"`             // 作业ID
	Total      int                 `json:"total"`              // 文档总数
	Processed  int                 `json:"processed"`          // 已处理的文档数量
	ChunkCount int                 `json:"chunk_count"`        // 分块数量
	Cancelled  bool                `json:"cancelled"`          // 是否被取消
	Failures   []document.Failure  `json:"failures,omitempty"` // 失败的文档
	Chunks     []document.Document `json:"chunks"`             // 所有分块
}

// NewSplitBatchResult 从批量切分结果创建任务结果
func NewSplitBatchResult(jobID string, r *document.BatchResult) *SplitBatchResult {
	if r == nil {
		return &SplitBatchResult{JobID: jobID, Chunks: []document.Document{}}
	}
	return &SplitBatchResult{
		JobID:      jobID,
		Total:      r.Total,
		Processed:  r.Processed,
		ChunkCount: len(r.Documents),
		Cancelled:  r.Cancelled,
		Failures:   r.Failures,
		Chunks:     r.Documents,
	}
}
