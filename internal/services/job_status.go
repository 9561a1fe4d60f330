package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/sirupsen/logrus"
)

// JobStatusManager 作业状态管理器
// 负责管理切分作业的生命周期状态
type JobStatusManager struct {
	repo   repository.JobRepository // 作业仓储接口
	logger *logrus.Logger           // 日志记录器
	mu     sync.Mutex               // 互斥锁，保证状态转换的原子性
}

// NewJobStatusManager 创建作业状态管理器
func NewJobStatusManager(repo repository.JobRepository, logger *logrus.Logger) *JobStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &JobStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// validTransitions 允许的状态转换
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {
		models.JobStatusProcessing,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusProcessing: {
		models.JobStatusCompleted,
		models.JobStatusPartial,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	// 异步任务重试时重新进入处理中
	models.JobStatusFailed: {models.JobStatusProcessing},
}

// ValidateStateTransition 验证状态转换的有效性
func (m *JobStatusManager) ValidateStateTransition(from, to models.JobStatus) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidJobStatus, from, to)
}

// transition 在锁内校验并执行状态转换
func (m *JobStatusManager) transition(jobID string, to models.JobStatus, apply func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.GetByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if err := m.ValidateStateTransition(job.Status, to); err != nil {
		return err
	}
	return apply()
}

// MarkAsProcessing 将作业标记为处理中
func (m *JobStatusManager) MarkAsProcessing(ctx context.Context, jobID string) error {
	m.logger.WithField("job_id", jobID).Info("Marking job as processing")
	return m.transition(jobID, models.JobStatusProcessing, func() error {
		return m.repo.UpdateStatus(jobID, models.JobStatusProcessing, "")
	})
}

// MarkAsFinished 根据批量切分结果结束作业
func (m *JobStatusManager) MarkAsFinished(ctx context.Context, jobID string, result *document.BatchResult) error {
	status := repository.StatusFor(result)
	m.logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"status":    status,
		"processed": result.Processed,
		"chunks":    len(result.Documents),
		"failures":  len(result.Failures),
	}).Info("Marking job as finished")

	return m.transition(jobID, status, func() error {
		return m.repo.Complete(jobID, result)
	})
}

// MarkAsFailed 将作业标记为失败
func (m *JobStatusManager) MarkAsFailed(ctx context.Context, jobID string, errorMsg string) error {
	m.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"error":  errorMsg,
	}).Error("Marking job as failed")

	return m.transition(jobID, models.JobStatusFailed, func() error {
		return m.repo.Fail(jobID, errorMsg)
	})
}

// MarkAsCancelled 将尚未结束的作业标记为已取消
func (m *JobStatusManager) MarkAsCancelled(ctx context.Context, jobID string) error {
	m.logger.WithField("job_id", jobID).Info("Marking job as cancelled")
	return m.transition(jobID, models.JobStatusCancelled, func() error {
		return m.repo.UpdateStatus(jobID, models.JobStatusCancelled, "cancelled by request")
	})
}

// UpdateProgress 更新处理中作业的进度
func (m *JobStatusManager) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	return m.repo.UpdateProgress(jobID, progress, message)
}

// GetJob 获取作业
func (m *JobStatusManager) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	return m.repo.GetByID(jobID)
}
