package services

import (
	"context"
	"sync"

	"github.com/fyerfyer/doc-ingest/internal/document"
)

// jobReporter 同时把进度写入作业记录的汇报器
// 取消状态由内部汇报器决定
type jobReporter struct {
	document.ProgressReporter
	ctx    context.Context
	status *JobStatusManager
	jobID  string

	mu      sync.Mutex
	percent int
	message string
}

func newJobReporter(ctx context.Context, inner document.ProgressReporter, status *JobStatusManager, jobID string) *jobReporter {
	return &jobReporter{
		ProgressReporter: inner,
		ctx:              ctx,
		status:           status,
		jobID:            jobID,
	}
}

// UpdateProgress 更新进度和消息
func (r *jobReporter) UpdateProgress(percent int, message string) {
	r.mu.Lock()
	r.percent, r.message = percent, message
	r.mu.Unlock()

	r.ProgressReporter.UpdateProgress(percent, message)
	if err := r.status.UpdateProgress(r.ctx, r.jobID, percent, message); err != nil {
		r.status.logger.WithError(err).WithField("job_id", r.jobID).Warn("Failed to update job progress")
	}
}

// UpdatePercent 只更新进度
func (r *jobReporter) UpdatePercent(percent int) {
	r.mu.Lock()
	message := r.message
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}

// UpdateMessage 只更新消息
func (r *jobReporter) UpdateMessage(message string) {
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}
