package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// jobRepository 作业仓储实现
type jobRepository struct {
	db        *gorm.DB        // 数据库连接
	taskQueue taskqueue.Queue // 任务队列，删除作业时一并删除任务
	ctx       context.Context // 上下文
}

// NewJobRepository 使用全局数据库连接创建作业仓储
func NewJobRepository() JobRepository {
	return NewJobRepositoryWithDB(database.MustDB())
}

// NewJobRepositoryWithDB 使用指定的数据库连接创建作业仓储
func NewJobRepositoryWithDB(db *gorm.DB) JobRepository {
	return NewJobRepositoryWithQueue(db, nil)
}

// NewJobRepositoryWithQueue 使用指定的数据库连接和任务队列创建作业仓储
func NewJobRepositoryWithQueue(db *gorm.DB, queue taskqueue.Queue) JobRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &jobRepository{
		db:        db,
		taskQueue: queue,
		ctx:       context.Background(),
	}
}

// Create 创建作业记录
func (r *jobRepository) Create(job *models.IngestionJob) error {
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}
	if job.Status != "" && !job.Status.IsValid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidJobStatus, job.Status)
	}
	return r.db.Create(job).Error
}

// GetByID 根据ID获取作业
func (r *jobRepository) GetByID(id string) (*models.IngestionJob, error) {
	return r.first("id = ?", id)
}

// GetByTaskID 根据异步任务ID获取作业
func (r *jobRepository) GetByTaskID(taskID string) (*models.IngestionJob, error) {
	return r.first("task_id = ?", taskID)
}

func (r *jobRepository) first(query string, arg string) (*models.IngestionJob, error) {
	var job models.IngestionJob
	err := r.db.Where(query, arg).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, arg)
		}
		return nil, err
	}
	return &job, nil
}

// List 列出作业
func (r *jobRepository) List(offset, limit int, filter JobFilter) ([]*models.IngestionJob, int64, error) {
	var jobs []*models.IngestionJob
	var total int64

	query := r.db.Model(&models.IngestionJob{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Strategy != "" {
		query = query.Where("strategy = ?", filter.Strategy)
	}
	if filter.Mode != "" {
		query = query.Where("mode = ?", string(filter.Mode))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// SetTaskID 关联异步任务
func (r *jobRepository) SetTaskID(id, taskID string) error {
	return r.update(id, map[string]interface{}{
		"task_id": taskID,
	})
}

// UpdateStatus 更新作业状态
func (r *jobRepository) UpdateStatus(id string, status models.JobStatus, errorMsg string) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidJobStatus, status)
	}

	updates := map[string]interface{}{
		"status": status,
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	if status.IsTerminal() {
		updates["completed_at"] = time.Now()
	}
	return r.update(id, updates)
}

// UpdateProgress 更新作业进度
func (r *jobRepository) UpdateProgress(id string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return r.update(id, map[string]interface{}{
		"progress": progress,
		"message":  message,
	})
}

// Complete 根据批量切分结果结束作业
func (r *jobRepository) Complete(id string, result *document.BatchResult) error {
	if result == nil {
		result = &document.BatchResult{}
	}

	failures, err := json.Marshal(result.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}

	status := StatusFor(result)
	updates := map[string]interface{}{
		"status":        status,
		"processed":     result.Processed,
		"chunk_count":   len(result.Documents),
		"failure_count": len(result.Failures),
		"failures":      datatypes.JSON(failures),
		"completed_at":  time.Now(),
	}
	if status == models.JobStatusCompleted {
		updates["progress"] = 100
	}
	if err := result.Err(); err != nil {
		updates["error"] = err.Error()
	}
	return r.update(id, updates)
}

// Fail 将作业标记为失败
func (r *jobRepository) Fail(id string, errorMsg string) error {
	return r.UpdateStatus(id, models.JobStatusFailed, errorMsg)
}

// Delete 删除作业记录和关联任务
func (r *jobRepository) Delete(id string) error {
	res := r.db.Where("id = ?", id).Delete(&models.IngestionJob{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}

	if r.taskQueue != nil {
		tasks, err := r.taskQueue.GetTasksByJob(r.ctx, id)
		if err == nil {
			for _, task := range tasks {
				// 任务可能已经过期，忽略错误
				_ = r.taskQueue.DeleteTask(r.ctx, task.ID)
			}
		}
	}
	return nil
}

// WithContext 创建带有上下文的仓储
func (r *jobRepository) WithContext(ctx context.Context) JobRepository {
	return &jobRepository{
		db:        r.db.WithContext(ctx),
		taskQueue: r.taskQueue,
		ctx:       ctx,
	}
}

func (r *jobRepository) update(id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := r.db.Model(&models.IngestionJob{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	return nil
}

// StatusFor 根据批量切分结果推导作业状态
// 全部失败为failed，部分失败为partial
func StatusFor(result *document.BatchResult) models.JobStatus {
	switch {
	case result.Cancelled:
		return models.JobStatusCancelled
	case len(result.Failures) == 0:
		return models.JobStatusCompleted
	case len(result.Failures) >= result.Total:
		return models.JobStatusFailed
	default:
		return models.JobStatusPartial
	}
}
