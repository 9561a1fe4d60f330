package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/sirupsen/logrus"
)

var _ document.ProgressReporter = (*TaskReporter)(nil)

// TaskReporter 把切分进度写回任务记录的汇报器
// 取消状态来自队列中的取消标记，查询结果缓存pollInterval时间
type TaskReporter struct {
	ctx          context.Context
	queue        Queue
	taskID       string
	logger       *logrus.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	percent   int
	message   string
	cancelled bool
	checkedAt time.Time
}

// NewTaskReporter 创建任务进度汇报器
func NewTaskReporter(ctx context.Context, queue Queue, taskID string, logger *logrus.Logger) *TaskReporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskReporter{
		ctx:          ctx,
		queue:        queue,
		taskID:       taskID,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
	}
}

// UpdateProgress 更新进度和消息
func (r *TaskReporter) UpdateProgress(percent int, message string) {
	r.mu.Lock()
	r.percent = clampPercent(percent)
	r.message = message
	percent = r.percent
	r.mu.Unlock()

	if err := r.queue.UpdateProgress(r.ctx, r.taskID, percent, message); err != nil {
		r.logger.WithError(err).WithField("task_id", r.taskID).Warn("Failed to update task progress")
	}
}

// UpdatePercent 只更新进度
func (r *TaskReporter) UpdatePercent(percent int) {
	r.mu.Lock()
	message := r.message
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}

// UpdateMessage 只更新消息
func (r *TaskReporter) UpdateMessage(message string) {
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}

// IsCancelled 任务是否被取消
// context结束也视为取消
func (r *TaskReporter) IsCancelled() bool {
	if r.ctx.Err() != nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return true
	}
	if !r.checkedAt.IsZero() && time.Since(r.checkedAt) < r.pollInterval {
		return false
	}

	cancelled, err := r.queue.IsCancelled(r.ctx, r.taskID)
	r.checkedAt = time.Now()
	if err != nil {
		r.logger.WithError(err).WithField("task_id", r.taskID).Warn("Failed to check task cancellation")
		return false
	}
	r.cancelled = cancelled
	return cancelled
}
