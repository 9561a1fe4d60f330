package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 切分作业状态
type JobStatus string

const (
	// JobStatusPending 已提交，等待处理
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing 处理中
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted 所有文档切分成功
	JobStatusCompleted JobStatus = "completed"
	// JobStatusPartial 部分文档切分失败
	JobStatusPartial JobStatus = "partial"
	// JobStatusFailed 作业失败
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled 作业被取消
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid 是否为已知状态
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal 作业是否已经结束
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusPartial || s == JobStatusFailed || s == JobStatusCancelled
}

// JobMode 作业执行方式
type JobMode string

const (
	// JobModeSync 请求内同步切分
	JobModeSync JobMode = "sync"
	// JobModeAsync 通过任务队列异步切分
	JobModeAsync JobMode = "async"
)

// IngestionJob 切分作业记录
// 只记录一次批量切分的簿记信息，不保存分块本身
type IngestionJob struct {
	ID            string         `gorm:"primaryKey" json:"id"`                     // 作业ID
	TaskID        string         `gorm:"size:50;index" json:"task_id,omitempty"`   // 关联的异步任务ID
	Mode          JobMode        `gorm:"size:10;not null" json:"mode"`             // 执行方式
	Status        JobStatus      `gorm:"size:20;not null;index" json:"status"`     // 作业状态
	Strategy      string         `gorm:"size:20;not null" json:"strategy"`         // 切分策略
	Options       datatypes.JSON `gorm:"type:json" json:"options,omitempty"`       // 切分配置
	Sources       datatypes.JSON `gorm:"type:json" json:"sources,omitempty"`       // 文档来源列表
	DocumentCount int            `gorm:"not null;default:0" json:"document_count"` // 文档数量
	Processed     int            `gorm:"not null;default:0" json:"processed"`      // 已处理的文档数量
	ChunkCount    int            `gorm:"not null;default:0" json:"chunk_count"`    // 产生的分块数量
	FailureCount  int            `gorm:"not null;default:0" json:"failure_count"`  // 失败的文档数量
	Failures      datatypes.JSON `gorm:"type:json" json:"failures,omitempty"`      // 失败详情
	Progress      int            `gorm:"not null;default:0" json:"progress"`       // 进度（0-100）
	Message       string         `gorm:"size:255" json:"message,omitempty"`        // 进度消息
	Error         string         `gorm:"type:text" json:"error,omitempty"`         // 错误信息
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`         // 创建时间
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`               // 更新时间
	CompletedAt   *time.Time     `gorm:"index" json:"completed_at,omitempty"`      // 结束时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (j *IngestionJob) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (j *IngestionJob) BeforeUpdate(tx *gorm.DB) (err error) {
	j.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (IngestionJob) TableName() string {
	return "ingestion_jobs"
}
