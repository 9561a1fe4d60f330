package repository

import (
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/models"
)

// JobFilter 作业列表的筛选条件
type JobFilter struct {
	Status   models.JobStatus // 作业状态
	Strategy string           // 切分策略
	Mode     models.JobMode   // 执行方式
}

// JobRepository 切分作业仓储接口
// 负责作业簿记信息的存储和检索
type JobRepository interface {
	// Create 创建作业记录
	Create(job *models.IngestionJob) error

	// GetByID 根据ID获取作业
	GetByID(id string) (*models.IngestionJob, error)

	// GetByTaskID 根据异步任务ID获取作业
	GetByTaskID(taskID string) (*models.IngestionJob, error)

	// List 列出作业，按创建时间倒序
	List(offset, limit int, filter JobFilter) ([]*models.IngestionJob, int64, error)

	// SetTaskID 关联异步任务
	SetTaskID(id, taskID string) error

	// UpdateStatus 更新作业状态
	UpdateStatus(id string, status models.JobStatus, errorMsg string) error

	// UpdateProgress 更新作业进度和消息
	UpdateProgress(id string, progress int, message string) error

	// Complete 根据批量切分结果结束作业
	Complete(id string, result *document.BatchResult) error

	// Fail 将作业标记为失败
	Fail(id string, errorMsg string) error

	// Delete 删除作业及其关联任务
	Delete(id string) error
}
