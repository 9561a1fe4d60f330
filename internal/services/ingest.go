package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/loader"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	// ErrAsyncDisabled 没有配置任务队列
	ErrAsyncDisabled = errors.New("async processing is not enabled")

	// ErrEmptyBatch 批次中没有文档
	ErrEmptyBatch = errors.New("batch contains no documents")
)

// SplitOptions 单次切分请求的选项
// 未设置的切分参数使用服务的默认配置
type SplitOptions struct {
	Splitter document.SplitterConfig `json:"splitter"`            // 切分配置
	Workers  int                     `json:"workers,omitempty"`   // 并发数
	FailFast bool                    `json:"fail_fast,omitempty"` // 遇到失败立即中止
}

// SplitResult 同步切分的结果
type SplitResult struct {
	Job    *models.IngestionJob  `json:"job"`    // 作业记录
	Result *document.BatchResult `json:"result"` // 切分结果
}

// IngestResult 上传并切分单个文件的结果
type IngestResult struct {
	File storage.FileInfo `json:"file"` // 存储中的文件
	SplitResult
}

// StrategyInfo 切分策略说明
type StrategyInfo struct {
	Name        document.SplitType `json:"name"`        // 策略名称
	Description string             `json:"description"` // 说明
}

// IngestService 切分服务
// 负责协调文件存储、文档加载、切分和作业簿记
type IngestService struct {
	storage       storage.Storage          // 文件存储
	repo          repository.JobRepository // 作业仓储
	statusManager *JobStatusManager        // 作业状态管理器
	taskQueue     taskqueue.Queue          // 任务队列
	spanCache     cache.Cache              // 切分区间缓存
	cacheTTL      time.Duration            // 缓存过期时间
	defaults      document.SplitterConfig  // 默认切分配置
	workers       int                      // 默认并发数
	timeout       time.Duration            // 同步切分超时时间
	logger        *logrus.Logger           // 日志记录器
}

// IngestOption 切分服务配置选项
type IngestOption func(*IngestService)

// NewIngestService 创建切分服务
func NewIngestService(store storage.Storage, repo repository.JobRepository, opts ...IngestOption) *IngestService {
	srv := &IngestService{
		storage:  store,
		repo:     repo,
		defaults: document.DefaultSplitterConfig(),
		workers:  1,
		timeout:  5 * time.Minute,
		cacheTTL: time.Hour,
		logger:   logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.repo == nil {
		srv.repo = repository.NewJobRepository()
	}
	if srv.statusManager == nil {
		srv.statusManager = NewJobStatusManager(srv.repo, srv.logger)
	}
	return srv
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) IngestOption {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTaskQueue 设置任务队列，启用异步切分
func WithTaskQueue(queue taskqueue.Queue) IngestOption {
	return func(s *IngestService) {
		s.taskQueue = queue
	}
}

// WithSpanCache 设置切分区间缓存
func WithSpanCache(c cache.Cache, ttl time.Duration) IngestOption {
	return func(s *IngestService) {
		s.spanCache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDefaultSplitter 设置默认切分配置
func WithDefaultSplitter(cfg document.SplitterConfig) IngestOption {
	return func(s *IngestService) {
		s.defaults = cfg.Normalize()
	}
}

// WithWorkers 设置默认并发数
func WithWorkers(n int) IngestOption {
	return func(s *IngestService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTimeout 设置同步切分超时时间
func WithTimeout(timeout time.Duration) IngestOption {
	return func(s *IngestService) {
		s.timeout = timeout
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *JobStatusManager) IngestOption {
	return func(s *IngestService) {
		s.statusManager = manager
	}
}

// AsyncEnabled 是否启用了异步切分
func (s *IngestService) AsyncEnabled() bool {
	return s.taskQueue != nil
}

// Strategies 返回支持的切分策略
func (s *IngestService) Strategies() []StrategyInfo {
	names := document.StrategyNames()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		out = append(out, StrategyInfo{Name: name, Description: name.Description()})
	}
	return out
}

// DefaultSplitter 返回默认切分配置
func (s *IngestService) DefaultSplitter() document.SplitterConfig {
	return s.defaults
}

// resolve 用默认配置补齐请求中未设置的参数
func (s *IngestService) resolve(opts SplitOptions) SplitOptions {
	cfg := opts.Splitter
	def := s.defaults
	if cfg.SplitType == "" {
		cfg.SplitType = def.SplitType
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = def.ChunkOverlap
		}
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = def.MaxChunks
	}
	if cfg.MaxHeadingLevel == 0 {
		cfg.MaxHeadingLevel = def.MaxHeadingLevel
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = def.Separators
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	opts.Splitter = cfg.Normalize()

	if opts.Workers <= 0 {
		opts.Workers = s.workers
	}
	return opts
}

// pipeline 按选项构建切分流水线
func (s *IngestService) pipeline(opts SplitOptions, reporter document.ProgressReporter) (*document.Pipeline, error) {
	pipelineOpts := []document.PipelineOption{
		document.WithWorkers(opts.Workers),
		document.WithProgressReporter(reporter),
		document.WithPipelineLogger(s.logger),
	}
	if opts.FailFast {
		pipelineOpts = append(pipelineOpts, document.WithFailFast())
	}
	return document.NewCachedTextSplitter(opts.Splitter, s.spanCache, s.cacheTTL, pipelineOpts...)
}

// newJob 创建作业记录
func (s *IngestService) newJob(mode models.JobMode, opts SplitOptions, sources []string) (*models.IngestionJob, error) {
	options, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal split options: %w", err)
	}
	sourceData, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}

	job := &models.IngestionJob{
		ID:            uuid.New().String(),
		Mode:          mode,
		Status:        models.JobStatusPending,
		Strategy:      string(opts.Splitter.SplitType),
		Options:       datatypes.JSON(options),
		Sources:       datatypes.JSON(sourceData),
		DocumentCount: len(sources),
	}
	if err := s.repo.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// SplitDocuments 同步切分一批文档
// 单个文档的失败记录在结果中，不影响其他文档；取消或快速失败时返回已完成部分和错误
func (s *IngestService) SplitDocuments(ctx context.Context, docs []*document.LoadedDocument, opts SplitOptions) (*SplitResult, error) {
	opts = s.resolve(opts)

	// 先校验策略，避免为无效请求创建作业
	if _, err := document.NewStrategy(opts.Splitter); err != nil {
		return nil, err
	}

	job, err := s.newJob(models.JobModeSync, opts, sourcesOf(docs))
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reporter := document.NewLogReporter(s.logger, logrus.Fields{"job_id": job.ID})
	result, err := s.run(ctx, job.ID, docs, opts, reporter)
	job, _ = s.refresh(job)
	return &SplitResult{Job: job, Result: result}, err
}

// run 执行切分并把结果写入作业记录
func (s *IngestService) run(ctx context.Context, jobID string, docs []*document.LoadedDocument, opts SplitOptions, inner document.ProgressReporter) (*document.BatchResult, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"documents": len(docs),
		"strategy":  opts.Splitter.SplitType,
	})

	if err := s.statusManager.MarkAsProcessing(ctx, jobID); err != nil {
		return nil, err
	}

	reporter := newJobReporter(ctx, inner, s.statusManager, jobID)
	p, err := s.pipeline(opts, reporter)
	if err != nil {
		s.fail(jobID, err)
		return nil, err
	}

	start := time.Now()
	result, splitErr := p.SplitAll(ctx, docs)
	if result == nil {
		s.fail(jobID, splitErr)
		return nil, splitErr
	}

	if err := s.statusManager.MarkAsFinished(context.Background(), jobID, result); err != nil {
		logger.WithError(err).Error("Failed to record job result")
	}

	logger.WithFields(logrus.Fields{
		"chunks":    len(result.Documents),
		"failures":  len(result.Failures),
		"cancelled": result.Cancelled,
		"duration":  time.Since(start).String(),
	}).Info("Batch split finished")

	return result, splitErr
}

// fail 记录作业失败
func (s *IngestService) fail(jobID string, err error) {
	if err == nil {
		return
	}
	if markErr := s.statusManager.MarkAsFailed(context.Background(), jobID, err.Error()); markErr != nil {
		s.logger.WithError(markErr).WithField("job_id", jobID).Error("Failed to mark job as failed")
	}
}

// refresh 重新读取作业记录，失败时返回原记录
func (s *IngestService) refresh(job *models.IngestionJob) (*models.IngestionJob, error) {
	fresh, err := s.repo.GetByID(job.ID)
	if err != nil {
		return job, err
	}
	return fresh, nil
}

// StoreFile 校验文件格式并保存到存储
func (s *IngestService) StoreFile(ctx context.Context, r io.Reader, filename string) (storage.FileInfo, error) {
	if _, err := loader.LoaderFactory(filename); err != nil {
		return storage.FileInfo{}, err
	}

	info, err := s.storage.Save(r, filename)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to save file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":  info.ID,
		"filename": filename,
		"size":     info.Size,
	}).Info("File stored")
	return info, nil
}

// IngestFile 保存文件、加载并同步切分
func (s *IngestService) IngestFile(ctx context.Context, r io.Reader, filename string, metadata map[string]any, opts SplitOptions) (*IngestResult, error) {
	info, err := s.StoreFile(ctx, r, filename)
	if err != nil {
		return nil, err
	}

	doc, err := s.loadFile(taskqueue.FileRef{FileID: info.ID, Filename: filename, Metadata: metadata})
	if err != nil {
		return nil, err
	}

	res, err := s.SplitDocuments(ctx, []*document.LoadedDocument{doc}, opts)
	if res == nil {
		return nil, err
	}
	return &IngestResult{File: info, SplitResult: *res}, err
}

// loadFile 从存储中加载一个文件并附加元数据
func (s *IngestService) loadFile(ref taskqueue.FileRef) (*document.LoadedDocument, error) {
	doc, err := loader.LoadFromStorage(s.storage, ref.FileID, ref.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", ref.FileID, err)
	}
	for k, v := range ref.Metadata {
		doc.WithMetadata(k, v)
	}
	return doc, nil
}

// SubmitBatch 提交异步批量切分任务
func (s *IngestService) SubmitBatch(ctx context.Context, payload *taskqueue.SplitBatchPayload) (*models.IngestionJob, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	if payload == nil || payload.DocumentCount() == 0 {
		return nil, ErrEmptyBatch
	}

	opts := s.resolve(SplitOptions{Splitter: payload.Splitter, Workers: payload.Workers, FailFast: payload.FailFast})
	if _, err := document.NewStrategy(opts.Splitter); err != nil {
		return nil, err
	}
	payload.Splitter = opts.Splitter
	payload.Workers = opts.Workers

	sources := make([]string, 0, payload.DocumentCount())
	for _, ref := range payload.Files {
		sources = append(sources, ref.FileID)
	}
	sources = append(sources, sourcesOf(payload.Documents)...)

	job, err := s.newJob(models.JobModeAsync, opts, sources)
	if err != nil {
		return nil, err
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskSplitBatch, job.ID, payload)
	if err != nil {
		s.fail(job.ID, err)
		return nil, fmt.Errorf("failed to enqueue split task: %w", err)
	}
	if err := s.repo.SetTaskID(job.ID, taskID); err != nil {
		return nil, err
	}
	job.TaskID = taskID

	s.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"task_id":   taskID,
		"documents": payload.DocumentCount(),
	}).Info("Batch submitted")
	return job, nil
}

// ProcessTask 处理异步批量切分任务
func (s *IngestService) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.SplitBatchPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		s.fail(task.JobID, err)
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	docs := make([]*document.LoadedDocument, 0, payload.DocumentCount())
	for _, ref := range payload.Files {
		doc, err := s.loadFile(ref)
		if err != nil {
			s.fail(task.JobID, err)
			if errors.Is(err, storage.ErrFileNotFound) || errors.Is(err, loader.ErrUnsupportedFormat) {
				return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
			}
			return err
		}
		docs = append(docs, doc)
	}
	docs = append(docs, payload.Documents...)

	opts := s.resolve(SplitOptions{Splitter: payload.Splitter, Workers: payload.Workers, FailFast: payload.FailFast})
	reporter := taskqueue.NewTaskReporter(ctx, s.taskQueue, task.ID, s.logger)

	result, err := s.run(ctx, task.JobID, docs, opts, reporter)
	if result == nil {
		return err
	}

	// 处理器的context可能已被取消，结果使用独立的context写入
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := taskqueue.StatusCompleted
	if result.Cancelled {
		status = taskqueue.StatusCancelled
	}
	if updateErr := s.taskQueue.UpdateTaskStatus(saveCtx, task.ID, status, taskqueue.NewSplitBatchResult(task.JobID, result), ""); updateErr != nil {
		s.logger.WithError(updateErr).WithField("task_id", task.ID).Error("Failed to save task result")
	}

	if errors.Is(err, document.ErrBatchCancelled) {
		return fmt.Errorf("%w: %v", taskqueue.ErrTaskCancelled, err)
	}
	// 快速失败时失败信息已记录在结果中，任务本身视为完成
	return nil
}

// GetTaskTypes 返回处理的任务类型
func (s *IngestService) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskSplitBatch}
}

// GetTask 获取异步任务
func (s *IngestService) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	return s.taskQueue.GetTask(ctx, taskID)
}

// WaitForTask 等待异步任务结束
func (s *IngestService) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	return s.taskQueue.WaitForTask(ctx, taskID, timeout)
}

// CancelTask 取消异步任务
// 尚未开始的任务对应的作业直接标记为已取消
func (s *IngestService) CancelTask(ctx context.Context, taskID string) error {
	if s.taskQueue == nil {
		return ErrAsyncDisabled
	}
	if err := s.taskQueue.Cancel(ctx, taskID); err != nil {
		return err
	}

	job, err := s.repo.GetByTaskID(taskID)
	if err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Warn("No job recorded for cancelled task")
		return nil
	}
	if job.Status == models.JobStatusPending {
		if err := s.statusManager.MarkAsCancelled(ctx, job.ID); err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to mark job as cancelled")
		}
	}
	return nil
}

// GetJob 获取作业
func (s *IngestService) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	return s.statusManager.GetJob(ctx, jobID)
}

// ListJobs 列出作业
func (s *IngestService) ListJobs(ctx context.Context, offset, limit int, filter repository.JobFilter) ([]*models.IngestionJob, int64, error) {
	return s.repo.List(offset, limit, filter)
}

// sourcesOf 返回文档的来源描述，没有来源时使用ID
func sourcesOf(docs []*document.LoadedDocument) []string {
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		switch {
		case doc == nil:
			out = append(out, "")
		case doc.Source != "":
			out = append(out, doc.Source)
		default:
			out = append(out, doc.ID)
		}
	}
	return out
}
