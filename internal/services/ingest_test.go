package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/loader"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testEnv 服务测试环境
type testEnv struct {
	service *IngestService
	repo    repository.JobRepository
	storage storage.Storage
	queue   taskqueue.Queue
}

// setupTestDB 创建内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbName := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// setupIngestTestEnv 设置切分服务的测试环境，async为true时连接miniredis队列
func setupIngestTestEnv(t *testing.T, async bool, opts ...IngestOption) *testEnv {
	t.Helper()

	repo := repository.NewJobRepositoryWithDB(setupTestDB(t))
	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{repo: repo, storage: store}
	opts = append([]IngestOption{WithLogger(logger), WithTimeout(10 * time.Second)}, opts...)

	if async {
		mr := miniredis.RunT(t)
		queue, err := taskqueue.NewRedisQueue(&taskqueue.Config{RedisAddr: mr.Addr(), RetryLimit: 1})
		require.NoError(t, err)
		t.Cleanup(func() { queue.Close() })
		env.queue = queue
		opts = append(opts, WithTaskQueue(queue))
	}

	env.service = NewIngestService(store, repo, opts...)
	return env
}

func paragraphOptions() SplitOptions {
	return SplitOptions{Splitter: document.SplitterConfig{SplitType: document.ByParagraph, ChunkSize: 100}}
}

func TestSplitDocuments(t *testing.T) {
	env := setupIngestTestEnv(t, false)
	ctx := context.Background()

	docs := []*document.LoadedDocument{
		document.NewLoadedDocument("a", "Alpha para.\n\nBeta para.", "a.txt", document.MimePlainText, nil),
		document.NewLoadedDocument("b", "binary", "b.png", "image/png", nil),
		document.NewLoadedDocument("c", "Gamma para.", "c.txt", document.MimePlainText, map[string]any{"lang": "en"}),
	}

	res, err := env.service.SplitDocuments(ctx, docs, paragraphOptions())
	require.NoError(t, err)

	require.Len(t, res.Result.Documents, 3)
	assert.Equal(t, "Alpha para.", res.Result.Documents[0].Text)
	assert.Equal(t, "Beta para.", res.Result.Documents[1].Text)
	assert.Equal(t, "Gamma para.", res.Result.Documents[2].Text)
	assert.Equal(t, "en", res.Result.Documents[2].Metadata["lang"])

	require.Len(t, res.Result.Failures, 1)
	assert.Equal(t, 1, res.Result.Failures[0].Index)
	assert.True(t, document.IsUnsplittable(res.Result.Failures[0].Err))

	job := res.Job
	assert.Equal(t, models.JobModeSync, job.Mode)
	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, "paragraph", job.Strategy)
	assert.Equal(t, 3, job.DocumentCount)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 3, job.ChunkCount)
	assert.Equal(t, 1, job.FailureCount)
	assert.NotNil(t, job.CompletedAt)
}

func TestSplitDocumentsUsesDefaults(t *testing.T) {
	env := setupIngestTestEnv(t, false, WithDefaultSplitter(document.SplitterConfig{
		SplitType: document.BySentence,
		ChunkSize: 50,
	}))

	doc := document.NewLoadedDocument("d", "First one. Second one.", "", document.MimePlainText, nil)
	res, err := env.service.SplitDocuments(context.Background(), []*document.LoadedDocument{doc}, SplitOptions{})
	require.NoError(t, err)

	assert.Equal(t, "sentence", res.Job.Strategy)
	assert.Equal(t, models.JobStatusCompleted, res.Job.Status)
	assert.Equal(t, 100, res.Job.Progress)
	require.Len(t, res.Result.Documents, 2)
	assert.Equal(t, "First one.", res.Result.Documents[0].Text)
}

func TestSplitDocumentsUnknownStrategy(t *testing.T) {
	env := setupIngestTestEnv(t, false)

	_, err := env.service.SplitDocuments(context.Background(), nil, SplitOptions{
		Splitter: document.SplitterConfig{SplitType: "semantic"},
	})
	assert.ErrorIs(t, err, document.ErrUnknownStrategy)

	_, total, err := env.repo.List(0, 10, repository.JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSplitDocumentsCancelled(t *testing.T) {
	env := setupIngestTestEnv(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := []*document.LoadedDocument{
		document.NewLoadedDocument("a", "text", "", document.MimePlainText, nil),
	}
	res, err := env.service.SplitDocuments(ctx, docs, paragraphOptions())
	assert.ErrorIs(t, err, document.ErrBatchCancelled)
	require.NotNil(t, res)
	assert.True(t, res.Result.Cancelled)
	assert.Equal(t, models.JobStatusCancelled, res.Job.Status)
}

func TestSplitDocumentsWithSpanCache(t *testing.T) {
	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	env := setupIngestTestEnv(t, false, WithSpanCache(c, time.Minute))

	doc := document.NewLoadedDocument("a", "Alpha.\n\nBeta.", "", document.MimePlainText, nil)
	for i := 0; i < 2; i++ {
		res, err := env.service.SplitDocuments(context.Background(), []*document.LoadedDocument{doc}, paragraphOptions())
		require.NoError(t, err)
		assert.Len(t, res.Result.Documents, 2)
	}
	assert.Equal(t, 1, c.(*cache.MemoryCache).ItemCount())
}

func TestIngestFile(t *testing.T) {
	env := setupIngestTestEnv(t, false)

	content := "# Guide\n\nIntro text.\n\n## Setup\n\nInstall it."
	res, err := env.service.IngestFile(context.Background(), strings.NewReader(content), "guide.md",
		map[string]any{"team": "docs"}, SplitOptions{Splitter: document.SplitterConfig{SplitType: document.ByMarkdown}})
	require.NoError(t, err)

	assert.NotEmpty(t, res.File.ID)
	exists, err := env.storage.Exists(res.File.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.Len(t, res.Result.Documents, 2)
	first := res.Result.Documents[0]
	assert.Equal(t, "Guide", first.Metadata[document.MetaHeading])
	assert.Equal(t, "docs", first.Metadata["team"])
	assert.Equal(t, res.File.ID, first.Metadata[loader.MetaFileID])
	assert.Equal(t, models.JobStatusCompleted, res.Job.Status)
}

func TestIngestFileUnsupported(t *testing.T) {
	env := setupIngestTestEnv(t, false)

	_, err := env.service.IngestFile(context.Background(), strings.NewReader("PK"), "archive.zip", nil, SplitOptions{})
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)

	files, err := env.storage.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSubmitBatchRequiresQueue(t *testing.T) {
	env := setupIngestTestEnv(t, false)
	assert.False(t, env.service.AsyncEnabled())

	_, err := env.service.SubmitBatch(context.Background(), &taskqueue.SplitBatchPayload{
		Files: []taskqueue.FileRef{{FileID: "x"}},
	})
	assert.ErrorIs(t, err, ErrAsyncDisabled)

	_, err = env.service.GetTask(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAsyncDisabled)
	assert.ErrorIs(t, env.service.CancelTask(context.Background(), "x"), ErrAsyncDisabled)
}

func TestSubmitBatchEmpty(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	_, err := env.service.SubmitBatch(context.Background(), &taskqueue.SplitBatchPayload{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestSubmitAndProcessBatch(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	ctx := context.Background()

	info, err := env.service.StoreFile(ctx, strings.NewReader("Stored first.\n\nStored second."), "notes.txt")
	require.NoError(t, err)

	payload := &taskqueue.SplitBatchPayload{
		Files: []taskqueue.FileRef{{FileID: info.ID, Metadata: map[string]any{"origin": "upload"}}},
		Documents: []*document.LoadedDocument{
			document.NewLoadedDocument("inline", "Inline text.", "inline", document.MimePlainText, nil),
		},
		Splitter: document.SplitterConfig{SplitType: document.ByParagraph, ChunkSize: 100},
	}

	job, err := env.service.SubmitBatch(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, models.JobModeAsync, job.Mode)
	assert.Equal(t, models.JobStatusPending, job.Status)
	require.NotEmpty(t, job.TaskID)

	task, err := env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, task.JobID)

	require.NoError(t, env.service.ProcessTask(ctx, task))

	task, err = env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, task.Status)

	var result taskqueue.SplitBatchResult
	require.NoError(t, taskqueue.UnmarshalPayload(task.Result, &result))
	assert.Equal(t, job.ID, result.JobID)
	require.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, "Stored first.", result.Chunks[0].Text)
	assert.Equal(t, "upload", result.Chunks[0].Metadata["origin"])
	assert.Equal(t, "Inline text.", result.Chunks[2].Text)

	stored, err := env.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.ChunkCount)
	assert.Equal(t, 100, stored.Progress)

	jobs, total, err := env.service.ListJobs(ctx, 0, 10, repository.JobFilter{Mode: models.JobModeAsync})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestProcessTaskMissingFile(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	ctx := context.Background()

	job, err := env.service.SubmitBatch(ctx, &taskqueue.SplitBatchPayload{
		Files: []taskqueue.FileRef{{FileID: "missing", Filename: "missing.txt"}},
	})
	require.NoError(t, err)

	task, err := env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)

	err = env.service.ProcessTask(ctx, task)
	assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)

	stored, err := env.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "missing")
}

func TestProcessTaskInvalidPayload(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	err := env.service.ProcessTask(context.Background(), &taskqueue.Task{
		ID:      "t",
		JobID:   "j",
		Payload: []byte("not json"),
	})
	assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)
}

func TestProcessTaskCancelled(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	ctx := context.Background()

	job, err := env.service.SubmitBatch(ctx, &taskqueue.SplitBatchPayload{
		Documents: []*document.LoadedDocument{
			document.NewLoadedDocument("a", "text", "", document.MimePlainText, nil),
			document.NewLoadedDocument("b", "text", "", document.MimePlainText, nil),
		},
	})
	require.NoError(t, err)

	// 处理中的任务收到取消请求
	require.NoError(t, env.queue.UpdateTaskStatus(ctx, job.TaskID, taskqueue.StatusProcessing, nil, ""))
	require.NoError(t, env.queue.Cancel(ctx, job.TaskID))

	task, err := env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)

	err = env.service.ProcessTask(ctx, task)
	assert.ErrorIs(t, err, taskqueue.ErrTaskCancelled)

	stored, err := env.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)

	task, err = env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, task.Status)
}

func TestCancelPendingTask(t *testing.T) {
	env := setupIngestTestEnv(t, true)
	ctx := context.Background()

	job, err := env.service.SubmitBatch(ctx, &taskqueue.SplitBatchPayload{
		Documents: []*document.LoadedDocument{
			document.NewLoadedDocument("a", "text", "", document.MimePlainText, nil),
		},
	})
	require.NoError(t, err)

	require.NoError(t, env.service.CancelTask(ctx, job.TaskID))

	task, err := env.service.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, task.Status)

	stored, err := env.service.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)

	// 已结束的任务不能再取消
	assert.ErrorIs(t, env.service.CancelTask(ctx, job.TaskID), taskqueue.ErrTaskFinished)
}

func TestStrategies(t *testing.T) {
	env := setupIngestTestEnv(t, false)
	strategies := env.service.Strategies()
	require.Len(t, strategies, len(document.StrategyNames()))
	for _, s := range strategies {
		assert.NotEmpty(t, s.Description, s.Name)
	}
}

func TestJobStatusManagerTransitions(t *testing.T) {
	repo := repository.NewJobRepositoryWithDB(setupTestDB(t))
	m := NewJobStatusManager(repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.Create(&models.IngestionJob{ID: "j", Mode: models.JobModeSync, Strategy: "length"}))

	// 等待中的作业不能直接完成
	err := m.MarkAsFinished(ctx, "j", &document.BatchResult{Total: 1, Processed: 1})
	assert.ErrorIs(t, err, models.ErrInvalidJobStatus)

	require.NoError(t, m.MarkAsProcessing(ctx, "j"))
	require.NoError(t, m.MarkAsFinished(ctx, "j", &document.BatchResult{Total: 1, Processed: 1}))
	assert.ErrorIs(t, m.MarkAsCancelled(ctx, "j"), models.ErrInvalidJobStatus)

	job, err := m.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	assert.NoError(t, m.ValidateStateTransition(models.JobStatusFailed, models.JobStatusProcessing))
	assert.Error(t, m.ValidateStateTransition(models.JobStatusCompleted, models.JobStatusProcessing))
}
