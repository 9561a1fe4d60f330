package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// TextSplitter 文本分段器接口
// 负责将加载后的文档切分成适合向量化的分块
type TextSplitter interface {
	// Split 切分单个文档，分块按在原文中的位置排序
	// 空白内容先于类型检查，返回空结果而不是UnsplittableError
	Split(doc *LoadedDocument) ([]Document, error)

	// SplitAll 按输入顺序切分多个文档并拼接结果
	SplitAll(ctx context.Context, docs []*LoadedDocument) (*BatchResult, error)
}

// Strategy 切分策略
// 只计算原文中的区间，不关心文档元数据
type Strategy interface {
	// Name 策略名称
	Name() string

	// Supports 是否支持该内容类型（已规范化）
	Supports(mimeType string) bool

	// Spans 计算分块区间，结果按Start递增
	Spans(content, mimeType string) ([]Span, error)
}

// Failure 批量切分中单个文档的失败信息
type Failure struct {
	Index      int    `json:"index"`       // 文档在批次中的位置
	DocumentID string `json:"document_id"` // 文档ID
	Message    string `json:"error"`       // 错误信息
	Err        error  `json:"-"`           // 原始错误
}

// BatchResult 批量切分结果
type BatchResult struct {
	Documents []Document `json:"documents"`          // 所有成功文档的分块，保持顺序
	Failures  []Failure  `json:"failures,omitempty"` // 失败的文档
	Processed int        `json:"processed"`          // 已处理的文档数量
	Total     int        `json:"total"`              // 文档总数
	Cancelled bool       `json:"cancelled"`          // 是否被取消
}

// HasFailures 是否存在失败的文档
func (r *BatchResult) HasFailures() bool {
	return len(r.Failures) > 0
}

// Err 合并所有失败为一个错误，没有失败时返回nil
func (r *BatchResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("document %d (%s): %w", f.Index, f.DocumentID, f.Err))
	}
	return errors.Join(errs...)
}

// Pipeline 切分流水线
// 持有一个切分策略，实现TextSplitter接口；构造后不再修改，可并发使用
type Pipeline struct {
	strategy  Strategy         // 切分策略
	maxChunks int              // 单文档最大分块数量（0表示不限制）
	workers   int              // 批量切分的并发数
	failFast  bool             // 遇到失败是否立即中止批次
	reporter  ProgressReporter // 进度汇报器
	logger    *logrus.Logger   // 日志记录器
}

// PipelineOption 流水线配置选项
type PipelineOption func(*Pipeline)

// NewPipeline 创建切分流水线
func NewPipeline(strategy Strategy, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		strategy: strategy,
		workers:  1,
		reporter: NopReporter{},
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithMaxChunks 设置单文档最大分块数量
func WithMaxChunks(n int) PipelineOption {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxChunks = n
		}
	}
}

// WithWorkers 设置批量切分的并发数
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithFailFast 遇到第一个失败的文档就中止批次
func WithFailFast() PipelineOption {
	return func(p *Pipeline) {
		p.failFast = true
	}
}

// WithProgressReporter 设置进度汇报器
func WithProgressReporter(r ProgressReporter) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithReporter 返回使用指定汇报器的流水线副本
func (p *Pipeline) WithReporter(r ProgressReporter) *Pipeline {
	cp := *p
	if r == nil {
		r = NopReporter{}
	}
	cp.reporter = r
	return &cp
}

// Strategy 返回当前策略
func (p *Pipeline) Strategy() Strategy {
	return p.strategy
}

// Split 切分单个文档
// 空白文档不论声明的类型都返回空结果，不视为无法切分
func (p *Pipeline) Split(doc *LoadedDocument) ([]Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if strings.TrimSpace(doc.Content) == "" {
		return []Document{}, nil
	}

	mimeType := NormalizeMimeType(doc.MimeType)
	if mimeType == "" {
		mimeType = DetectMimeType(doc.Content)
	}

	if !p.strategy.Supports(mimeType) {
		return nil, &UnsplittableError{
			DocumentID: doc.ID,
			MimeType:   mimeType,
			Strategy:   p.strategy.Name(),
			Reason:     "unsupported mime type",
		}
	}

	spans, err := p.strategy.Spans(doc.Content, mimeType)
	if err != nil {
		var ue *UnsplittableError
		if errors.As(err, &ue) {
			ue.DocumentID = doc.ID
			ue.MimeType = mimeType
			return nil, ue
		}
		return nil, &UnsplittableError{
			DocumentID: doc.ID,
			MimeType:   mimeType,
			Strategy:   p.strategy.Name(),
			Reason:     "strategy failed",
			Err:        err,
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	if p.maxChunks > 0 && len(spans) > p.maxChunks {
		spans = spans[:p.maxChunks]
	}

	chunks := make([]Document, 0, len(spans))
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(doc.Content) || sp.Start >= sp.End {
			return nil, &UnsplittableError{
				DocumentID: doc.ID,
				MimeType:   mimeType,
				Strategy:   p.strategy.Name(),
				Reason:     fmt.Sprintf("invalid span [%d,%d)", sp.Start, sp.End),
			}
		}
		chunks = append(chunks, newChunk(doc, mimeType, p.strategy.Name(), len(chunks), sp))
	}
	return chunks, nil
}

// SplitAll 按顺序切分多个文档
// 单个文档失败不会中止批次（除非启用FailFast），失败信息记录在结果中；
// 取消时返回已完成的前缀结果和ErrBatchCancelled
func (p *Pipeline) SplitAll(ctx context.Context, docs []*LoadedDocument) (*BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &BatchResult{
		Documents: []Document{},
		Total:     len(docs),
	}
	if len(docs) == 0 {
		return result, nil
	}

	p.logger.WithFields(logrus.Fields{
		"strategy":  p.strategy.Name(),
		"documents": len(docs),
		"workers":   p.workers,
	}).Debug("Splitting document batch")

	if p.workers > 1 && len(docs) > 1 {
		return p.splitParallel(ctx, docs, result)
	}
	return p.splitSequential(ctx, docs, result)
}

// cancelled 检查上下文和汇报器的取消状态
func (p *Pipeline) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || p.reporter.IsCancelled()
}

func (p *Pipeline) splitSequential(ctx context.Context, docs []*LoadedDocument, result *BatchResult) (*BatchResult, error) {
	total := len(docs)
	for i, doc := range docs {
		if p.cancelled(ctx) {
			return p.cancel(result)
		}

		chunks, err := p.Split(doc)
		result.Processed++
		if err != nil {
			result.Failures = append(result.Failures, newFailure(i, doc, err))
			p.logFailure(i, doc, err)
			if p.failFast {
				return result, fmt.Errorf("split document %d: %w", i, err)
			}
		} else {
			result.Documents = append(result.Documents, chunks...)
		}

		p.reporter.UpdateProgress(percentOf(i+1, total), fmt.Sprintf("split %d/%d documents", i+1, total))
	}
	return result, nil
}

// docOutcome 并发切分时单个文档的结果
type docOutcome struct {
	done   bool
	chunks []Document
	err    error
}

func (p *Pipeline) splitParallel(ctx context.Context, docs []*LoadedDocument, result *BatchResult) (*BatchResult, error) {
	total := len(docs)
	outcomes := make([]docOutcome, total)

	var (
		finished  int32
		firstFail atomic.Int64 // FailFast时最早失败的位置，之后的文档不再处理
		mu        sync.Mutex   // 保护汇报器调用的顺序
	)
	firstFail.Store(int64(total))

	wp := workerpool.New(p.workers)
	for i, doc := range docs {
		i, doc := i, doc
		wp.Submit(func() {
			if int64(i) > firstFail.Load() || p.cancelled(ctx) {
				return
			}
			chunks, err := p.Split(doc)
			outcomes[i] = docOutcome{done: true, chunks: chunks, err: err}
			if err != nil && p.failFast {
				for {
					cur := firstFail.Load()
					if int64(i) >= cur || firstFail.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}

			n := atomic.AddInt32(&finished, 1)
			mu.Lock()
			p.reporter.UpdateProgress(percentOf(int(n), total), fmt.Sprintf("split %d/%d documents", n, total))
			mu.Unlock()
		})
	}
	wp.StopWait()

	// 只保留连续完成的前缀，保证结果顺序与顺序执行一致
	for i, out := range outcomes {
		if !out.done {
			return p.cancel(result)
		}
		result.Processed++
		if out.err != nil {
			result.Failures = append(result.Failures, newFailure(i, docs[i], out.err))
			p.logFailure(i, docs[i], out.err)
			if p.failFast {
				return result, fmt.Errorf("split document %d: %w", i, out.err)
			}
			continue
		}
		result.Documents = append(result.Documents, out.chunks...)
	}
	return result, nil
}

func (p *Pipeline) cancel(result *BatchResult) (*BatchResult, error) {
	result.Cancelled = true
	p.reporter.UpdateMessage(fmt.Sprintf("cancelled after %d/%d documents", result.Processed, result.Total))
	p.logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"total":     result.Total,
	}).Warn("Document batch split cancelled")
	return result, ErrBatchCancelled
}

func (p *Pipeline) logFailure(index int, doc *LoadedDocument, err error) {
	p.logger.WithFields(logrus.Fields{
		"index":    index,
		"doc_id":   documentID(doc),
		"strategy": p.strategy.Name(),
	}).WithError(err).Warn("Failed to split document")
}

func newFailure(index int, doc *LoadedDocument, err error) Failure {
	return Failure{
		Index:      index,
		DocumentID: documentID(doc),
		Message:    err.Error(),
		Err:        err,
	}
}

func documentID(doc *LoadedDocument) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}

func percentOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
