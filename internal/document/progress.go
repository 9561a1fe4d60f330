package document

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ProgressReporter 进度汇报接口
// 由工作流引擎提供，批量切分时汇报进度并轮询取消状态
type ProgressReporter interface {
	// UpdateProgress 更新进度（0-100）和消息
	UpdateProgress(percent int, message string)

	// UpdatePercent 只更新进度
	UpdatePercent(percent int)

	// UpdateMessage 只更新消息
	UpdateMessage(message string)

	// IsCancelled 是否已被取消
	IsCancelled() bool
}

// NopReporter 不做任何事的进度汇报器
type NopReporter struct{}

func (NopReporter) UpdateProgress(int, string) {}
func (NopReporter) UpdatePercent(int)          {}
func (NopReporter) UpdateMessage(string)       {}
func (NopReporter) IsCancelled() bool          { return false }

// LogReporter 将进度写入日志的汇报器
// 可以通过Cancel手动取消
type LogReporter struct {
	logger    *logrus.Logger
	fields    logrus.Fields
	mu        sync.Mutex
	percent   int
	message   string
	cancelled bool
}

// NewLogReporter 创建日志汇报器
func NewLogReporter(logger *logrus.Logger, fields logrus.Fields) *LogReporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogReporter{
		logger: logger,
		fields: fields,
	}
}

// UpdateProgress 更新进度和消息
func (r *LogReporter) UpdateProgress(percent int, message string) {
	r.mu.Lock()
	r.percent = clampPercent(percent)
	r.message = message
	r.mu.Unlock()
	r.logger.WithFields(r.fields).WithFields(logrus.Fields{
		"progress": percent,
	}).Debug(message)
}

// UpdatePercent 更新进度
func (r *LogReporter) UpdatePercent(percent int) {
	r.mu.Lock()
	message := r.message
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}

// UpdateMessage 更新消息
func (r *LogReporter) UpdateMessage(message string) {
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	r.UpdateProgress(percent, message)
}

// IsCancelled 是否已取消
func (r *LogReporter) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Cancel 取消
func (r *LogReporter) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

// Progress 返回当前进度和消息
func (r *LogReporter) Progress() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent, r.message
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
