package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisTest 设置一个miniredis实例用于测试
// 返回Redis地址和一个清理函数
func setupRedisTest(t *testing.T) (string, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	return mr.Addr(), func() {
		mr.Close()
	}
}

// setupQueue 创建连接到miniredis的队列
func setupQueue(t *testing.T) (*RedisQueue, *Config) {
	t.Helper()
	redisAddr, cleanup := setupRedisTest(t)
	t.Cleanup(cleanup)

	cfg := &Config{
		RedisAddr:   redisAddr,
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	}

	queue, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	return queue.(*RedisQueue), cfg
}

func samplePayload() *SplitBatchPayload {
	return &SplitBatchPayload{
		Files: []FileRef{{FileID: "file-1", Filename: "a.md"}},
		Documents: []*document.LoadedDocument{
			document.NewLoadedDocument("doc-1", "One. Two.", "inline", document.MimePlainText, nil),
		},
		Splitter: document.SplitterConfig{SplitType: document.BySentence, ChunkSize: 100},
	}
}

func TestNewRedisQueue(t *testing.T) {
	redisAddr, cleanup := setupRedisTest(t)
	defer cleanup()

	queue, err := NewRedisQueue(&Config{RedisAddr: redisAddr})
	assert.NoError(t, err)
	assert.NotNil(t, queue)
	assert.NoError(t, queue.Close())
}

func TestNewRedisQueueUnavailable(t *testing.T) {
	_, err := NewRedisQueue(&Config{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNewQueueFactory(t *testing.T) {
	_, err := NewQueue("kafka", DefaultConfig())
	assert.Error(t, err)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job-123", samplePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskSplitBatch, task.Type)
	assert.Equal(t, "job-123", task.JobID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)
	assert.Empty(t, task.Result)

	var payload SplitBatchPayload
	require.NoError(t, UnmarshalPayload(task.Payload, &payload))
	assert.Equal(t, 2, payload.DocumentCount())
	assert.Equal(t, "One. Two.", payload.Documents[0].Content)
	assert.Equal(t, document.BySentence, payload.Splitter.SplitType)
}

func TestRedisQueue_EnqueueDelayed(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	atID, err := queue.EnqueueAt(ctx, TaskSplitBatch, "job-123", samplePayload(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	inID, err := queue.EnqueueIn(ctx, TaskSplitBatch, "job-123", samplePayload(), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, atID, inID)

	for _, id := range []string{atID, inID} {
		task, err := queue.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, task.Status)
	}
}

func TestRedisQueue_GetTaskNotFound(t *testing.T) {
	queue, _ := setupQueue(t)
	_, err := queue.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_GetTasksByJob(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := queue.Enqueue(ctx, TaskSplitBatch, "job-456", samplePayload())
		require.NoError(t, err)
	}
	_, err := queue.Enqueue(ctx, TaskSplitBatch, "job-other", nil)
	require.NoError(t, err)

	tasks, err := queue.GetTasksByJob(ctx, "job-456")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, "job-456", task.JobID)
	}

	empty, err := queue.GetTasksByJob(ctx, "non-existent")
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job-789", samplePayload())
	require.NoError(t, err)

	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt)
	assert.Equal(t, 1, task.Attempts)
	assert.Nil(t, task.CompletedAt)
	assert.Empty(t, task.Result)

	result := &SplitBatchResult{JobID: "job-789", Total: 2, Processed: 2, ChunkCount: 3}
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.NotNil(t, task.CompletedAt)

	var stored SplitBatchResult
	require.NoError(t, UnmarshalPayload(task.Result, &stored))
	assert.Equal(t, 3, stored.ChunkCount)

	// 失败状态记录错误信息
	failID, err := queue.Enqueue(ctx, TaskSplitBatch, "job-789", nil)
	require.NoError(t, err)
	require.NoError(t, queue.UpdateTaskStatus(ctx, failID, StatusFailed, nil, "storage unavailable"))
	failed, err := queue.GetTask(ctx, failID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "storage unavailable", failed.Error)
	assert.NotNil(t, failed.CompletedAt)
}

func TestRedisQueue_UpdateProgress(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)

	require.NoError(t, queue.UpdateProgress(ctx, taskID, 40, "split 2/5 documents"))
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 40, task.Progress)
	assert.Equal(t, "split 2/5 documents", task.Message)

	require.NoError(t, queue.UpdateProgress(ctx, taskID, 150, "done"))
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 100, task.Progress)

	assert.ErrorIs(t, queue.UpdateProgress(ctx, "missing", 1, ""), ErrTaskNotFound)
}

func TestRedisQueue_CancelPending(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", samplePayload())
	require.NoError(t, err)

	cancelled, err := queue.IsCancelled(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, queue.Cancel(ctx, taskID))

	cancelled, err = queue.IsCancelled(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
	assert.NotNil(t, task.CompletedAt)

	// 已结束的任务不能再取消
	assert.ErrorIs(t, queue.Cancel(ctx, taskID), ErrTaskFinished)
	assert.ErrorIs(t, queue.Cancel(ctx, "missing"), ErrTaskNotFound)
}

func TestRedisQueue_CancelProcessing(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))

	require.NoError(t, queue.Cancel(ctx, taskID))

	// 处理中的任务由处理器自己结束
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)

	cancelled, err := queue.IsCancelled(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job-delete", samplePayload())
	require.NoError(t, err)

	tasks, err := queue.GetTasksByJob(ctx, "job-delete")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, queue.DeleteTask(ctx, taskID))

	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err = queue.GetTasksByJob(ctx, "job-delete")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, queue.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, &SplitBatchResult{ChunkCount: 1}, "")
		queue.NotifyTaskUpdate(ctx, taskID)
	}()

	task, err := queue.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)

	// 已结束的任务立即返回
	task, err = queue.WaitForTask(ctx, taskID, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestRedisQueue_WaitForTaskTimeout(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)

	_, err = queue.WaitForTask(ctx, taskID, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}

func TestRedisWorkerProcess(t *testing.T) {
	queue, cfg := setupQueue(t)
	ctx := context.Background()
	worker := NewRedisWorker(queue, cfg).(*RedisWorker)

	tests := []struct {
		name       string
		handlerErr error
		wantStatus TaskStatus
		wantErr    bool
		skipRetry  bool
	}{
		{name: "success", wantStatus: StatusCompleted},
		{name: "failure", handlerErr: errors.New("boom"), wantStatus: StatusFailed, wantErr: true},
		{name: "invalid payload", handlerErr: fmt.Errorf("decode: %w", ErrInvalidPayload), wantStatus: StatusFailed, wantErr: true, skipRetry: true},
		{name: "cancelled by handler", handlerErr: fmt.Errorf("stop: %w", ErrTaskCancelled), wantStatus: StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", samplePayload())
			require.NoError(t, err)

			var seen *Task
			handler := HandlerFunc(func(ctx context.Context, task *Task) error {
				seen = task
				return tt.handlerErr
			})

			err = worker.process(ctx, handler, taskID)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
			} else {
				assert.NoError(t, err)
			}

			require.NotNil(t, seen)
			assert.Equal(t, taskID, seen.ID)

			task, err := queue.GetTask(ctx, taskID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, task.Status)
			assert.Equal(t, 1, task.Attempts)
		})
	}
}

func TestRedisWorkerSkipsCancelledTask(t *testing.T) {
	queue, cfg := setupQueue(t)
	ctx := context.Background()
	worker := NewRedisWorker(queue, cfg).(*RedisWorker)

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)
	require.NoError(t, queue.Cancel(ctx, taskID))

	var calls atomic.Int32
	handler := HandlerFunc(func(context.Context, *Task) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, worker.process(ctx, handler, taskID))
	assert.Equal(t, int32(0), calls.Load())

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)

	// 记录不存在的任务不再重试
	err = worker.process(ctx, handler, "missing")
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskReporter(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)

	reporter := NewTaskReporter(ctx, queue, taskID, nil)
	reporter.pollInterval = 0

	reporter.UpdateProgress(30, "split 3/10 documents")
	reporter.UpdatePercent(50)
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 50, task.Progress)
	assert.Equal(t, "split 3/10 documents", task.Message)

	reporter.UpdateMessage("almost")
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 50, task.Progress)
	assert.Equal(t, "almost", task.Message)

	assert.False(t, reporter.IsCancelled())
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	require.NoError(t, queue.Cancel(ctx, taskID))
	assert.True(t, reporter.IsCancelled())
}

func TestTaskReporterContextCancelled(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	taskID, err := queue.Enqueue(ctx, TaskSplitBatch, "job", nil)
	require.NoError(t, err)

	reporter := NewTaskReporter(ctx, queue, taskID, nil)
	assert.False(t, reporter.IsCancelled())
	cancel()
	assert.True(t, reporter.IsCancelled())
}

func TestTaskInfo(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)

	task := &Task{
		ID:        "task-123",
		Type:      TaskSplitBatch,
		JobID:     "job-123",
		Status:    StatusProcessing,
		Progress:  42,
		Message:   "split 42/100 documents",
		CreatedAt: now.Add(-10 * time.Minute),
		UpdatedAt: now,
		StartedAt: &startedAt,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, task.ID, info.ID)
	assert.Equal(t, task.Type, info.Type)
	assert.Equal(t, task.JobID, info.JobID)
	assert.Equal(t, task.Message, info.Message)
	assert.Equal(t, 42, info.Progress)

	task.Status = StatusCompleted
	assert.Equal(t, 100, NewTaskInfo(task).Progress)
	task.Status = StatusPending
	assert.Equal(t, 0, NewTaskInfo(task).Progress)
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestNewSplitBatchResult(t *testing.T) {
	r := &document.BatchResult{
		Documents: []document.Document{{ID: "d#0"}, {ID: "d#1"}},
		Failures:  []document.Failure{{Index: 1, DocumentID: "e", Message: "bad"}},
		Processed: 2,
		Total:     2,
	}
	res := NewSplitBatchResult("job", r)
	assert.Equal(t, "job", res.JobID)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Len(t, res.Failures, 1)

	empty := NewSplitBatchResult("job", nil)
	assert.NotNil(t, empty.Chunks)
	assert.Zero(t, empty.ChunkCount)
}
