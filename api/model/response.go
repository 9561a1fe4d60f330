package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// JobInfo 作业信息
type JobInfo struct {
	ID            string             `json:"id"`                     // 作业ID
	TaskID        string             `json:"task_id,omitempty"`      // 异步任务ID
	Mode          string             `json:"mode"`                   // 执行方式
	Status        string             `json:"status"`                 // 作业状态
	Strategy      string             `json:"strategy"`               // 切分策略
	Sources       []string           `json:"sources,omitempty"`      // 文档来源
	DocumentCount int                `json:"document_count"`         // 文档数量
	Processed     int                `json:"processed"`              // 已处理的文档数量
	ChunkCount    int                `json:"chunk_count"`            // 分块数量
	FailureCount  int                `json:"failure_count"`          // 失败数量
	Failures      []document.Failure `json:"failures,omitempty"`     // 失败的文档
	Progress      int                `json:"progress"`               // 处理进度
	Message       string             `json:"message,omitempty"`      // 进度消息
	Error         string             `json:"error,omitempty"`        // 错误信息
	CreatedAt     time.Time          `json:"created_at"`             // 创建时间
	UpdatedAt     time.Time          `json:"updated_at"`             // 更新时间
	CompletedAt   *time.Time         `json:"completed_at,omitempty"` // 完成时间
}

// NewJobInfo 从作业记录创建作业信息
func NewJobInfo(job *models.IngestionJob) *JobInfo {
	if job == nil {
		return nil
	}
	info := &JobInfo{
		ID:            job.ID,
		TaskID:        job.TaskID,
		Mode:          string(job.Mode),
		Status:        string(job.Status),
		Strategy:      job.Strategy,
		DocumentCount: job.DocumentCount,
		Processed:     job.Processed,
		ChunkCount:    job.ChunkCount,
		FailureCount:  job.FailureCount,
		Progress:      job.Progress,
		Message:       job.Message,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
	}
	// JSON列解析失败时忽略，不影响作业本身的展示
	if len(job.Sources) > 0 {
		_ = json.Unmarshal(job.Sources, &info.Sources)
	}
	if len(job.Failures) > 0 {
		_ = json.Unmarshal(job.Failures, &info.Failures)
	}
	return info
}

// SplitResponse 同步切分响应
type SplitResponse struct {
	Job       *JobInfo            `json:"job"`                // 作业信息
	Chunks    []document.Document `json:"chunks"`             // 分块
	Failures  []document.Failure  `json:"failures,omitempty"` // 失败的文档
	Processed int                 `json:"processed"`          // 已处理的文档数量
	Total     int                 `json:"total"`              // 文档总数
	Cancelled bool                `json:"cancelled"`          // 是否被取消
}

// NewSplitResponse 创建同步切分响应
func NewSplitResponse(job *models.IngestionJob, result *document.BatchResult) *SplitResponse {
	resp := &SplitResponse{Job: NewJobInfo(job), Chunks: []document.Document{}}
	if result != nil {
		resp.Chunks = result.Documents
		resp.Failures = result.Failures
		resp.Processed = result.Processed
		resp.Total = result.Total
		resp.Cancelled = result.Cancelled
	}
	return resp
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	FileID   string         `json:"file_id"`           // 文件ID
	FileName string         `json:"filename"`          // 文件名
	Size     int64          `json:"size"`              // 文件大小
	Async    bool           `json:"async"`             // 是否异步切分
	Split    *SplitResponse `json:"split,omitempty"`   // 同步切分结果
	Job      *JobInfo       `json:"job,omitempty"`     // 异步作业
	TaskID   string         `json:"task_id,omitempty"` // 异步任务ID
}

// NewDocumentUploadResponse 创建上传响应
func NewDocumentUploadResponse(info storage.FileInfo) *DocumentUploadResponse {
	return &DocumentUploadResponse{
		FileID:   info.ID,
		FileName: info.Name,
		Size:     info.Size,
	}
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	FileID  string `json:"file_id"` // 文件ID
}

// BatchResponse 批量提交响应
type BatchResponse struct {
	Job    *JobInfo `json:"job"`     // 作业信息
	TaskID string   `json:"task_id"` // 任务ID
}

// TaskResponse 任务状态响应
type TaskResponse struct {
	*taskqueue.TaskInfo
	Result *taskqueue.SplitBatchResult `json:"result,omitempty"` // 切分结果
}

// NewTaskResponse 从任务创建响应
func NewTaskResponse(task *taskqueue.Task) *TaskResponse {
	resp := &TaskResponse{TaskInfo: taskqueue.NewTaskInfo(task)}
	// 未完成的任务没有结果，旧数据里可能存成了null
	if len(task.Result) > 0 && !bytes.Equal(task.Result, []byte("null")) {
		var result taskqueue.SplitBatchResult
		if err := json.Unmarshal(task.Result, &result); err == nil {
			resp.Result = &result
		}
	}
	return resp
}

// JobListResponse 作业列表响应
type JobListResponse struct {
	PaginationResponse
	Jobs []*JobInfo `json:"jobs"` // 作业列表
}

// StrategyInfo 切分策略信息
type StrategyInfo struct {
	Name        string `json:"name"`        // 策略名称
	Description string `json:"description"` // 说明
}

// StrategyListResponse 切分策略列表响应
type StrategyListResponse struct {
	Strategies []StrategyInfo          `json:"strategies"` // 可用策略
	Defaults   document.SplitterConfig `json:"defaults"`   // 默认切分配置
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
