package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSentencePipeline(opts ...PipelineOption) *Pipeline {
	return NewPipeline(NewSentenceStrategy(1000, 0), opts...)
}

// assertReconstructs 分块按位置排列且互不重叠，分块之间只有空白
func assertReconstructs(t *testing.T, content string, chunks []Document) {
	t.Helper()
	prev := 0
	for i, c := range chunks {
		require.Equal(t, content[c.Start:c.End], c.Text, "chunk %d text must match its span", i)
		require.GreaterOrEqual(t, c.Start, prev, "chunk %d overlaps previous chunk", i)
		assert.Empty(t, strings.TrimSpace(content[prev:c.Start]), "gap before chunk %d must be whitespace", i)
		prev = c.End
	}
	assert.Empty(t, strings.TrimSpace(content[prev:]), "trailing gap must be whitespace")
}

// TestSplitSentences 三个句子得到三个分块，并带有溯源信息
func TestSplitSentences(t *testing.T) {
	doc := NewLoadedDocument("doc-1", "Sentence one. Sentence two. Sentence three.", "test.txt", "text/plain", nil)

	chunks, err := newSentencePipeline().Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	texts := []string{"Sentence one.", "Sentence two.", "Sentence three."}
	for i, c := range chunks {
		assert.Equal(t, texts[i], c.Text)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ChunkID("doc-1", i), c.ID)
		assert.Equal(t, "doc-1", c.Metadata[MetaDocumentID])
		assert.Equal(t, "test.txt", c.Metadata[MetaSource])
		assert.Equal(t, MimePlainText, c.Metadata[MetaMimeType])
		assert.Equal(t, i, c.Metadata[MetaChunkIndex])
		assert.Equal(t, c.Start, c.Metadata[MetaChunkStart])
		assert.Equal(t, c.End, c.Metadata[MetaChunkEnd])
		assert.Equal(t, "sentence", c.Metadata[MetaStrategy])
	}
	assertReconstructs(t, doc.Content, chunks)
}

func TestSplitEmptyContent(t *testing.T) {
	p := newSentencePipeline()

	t.Run("empty with mime", func(t *testing.T) {
		chunks, err := p.Split(NewLoadedDocument("e1", "", "", "text/plain", nil))
		assert.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	})

	t.Run("blank without mime", func(t *testing.T) {
		chunks, err := p.Split(NewLoadedDocument("e2", " \n\t ", "", "", nil))
		assert.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("empty with unsupported mime", func(t *testing.T) {
		chunks, err := p.Split(NewLoadedDocument("e3", "", "", "application/pdf", nil))
		assert.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	})
}

func TestSplitUnsupportedMime(t *testing.T) {
	doc := NewLoadedDocument("bin-1", "%PDF-1.4 binary", "a.pdf", "application/pdf", nil)

	chunks, err := newSentencePipeline().Split(doc)
	assert.Nil(t, chunks)
	assert.True(t, IsUnsplittable(err))

	var ue *UnsplittableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "bin-1", ue.DocumentID)
	assert.Equal(t, "application/pdf", ue.MimeType)
	assert.Equal(t, "sentence", ue.Strategy)
}

func TestSplitNilDocument(t *testing.T) {
	_, err := newSentencePipeline().Split(nil)
	assert.ErrorIs(t, err, ErrNilDocument)
}

func TestSplitMimeHandling(t *testing.T) {
	p := newSentencePipeline()

	t.Run("parameters are stripped", func(t *testing.T) {
		chunks, err := p.Split(NewLoadedDocument("m1", "Hello there.", "", "Text/Plain; charset=utf-8", nil))
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, MimePlainText, chunks[0].Metadata[MetaMimeType])
	})

	t.Run("detected when missing", func(t *testing.T) {
		chunks, err := p.Split(NewLoadedDocument("m2", "Hello there. Bye.", "", "", nil))
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, MimePlainText, chunks[0].Metadata[MetaMimeType])
	})
}

// TestSplitMetadataPropagation 原文档元数据被复制，溯源字段优先
func TestSplitMetadataPropagation(t *testing.T) {
	doc := NewLoadedDocument("d1", "One. Two.", "origin.txt", "text/plain", map[string]any{
		"author":       "alice",
		MetaSource:     "should be overridden",
		MetaChunkIndex: 99,
	})

	chunks, err := newSentencePipeline().Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, "alice", c.Metadata["author"])
		assert.Equal(t, "origin.txt", c.Metadata[MetaSource])
		assert.Equal(t, i, c.Metadata[MetaChunkIndex])
	}

	// 修改分块元数据不影响原文档
	chunks[0].Metadata["author"] = "bob"
	assert.Equal(t, "alice", doc.Metadata["author"])
}

func TestSplitMaxChunks(t *testing.T) {
	doc := NewLoadedDocument("d1", "A. B. C. D.", "", "text/plain", nil)
	chunks, err := newSentencePipeline(WithMaxChunks(2)).Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "A.", chunks[0].Text)
	assert.Equal(t, "B.", chunks[1].Text)
}

// failingStrategy 总是返回错误的策略
type failingStrategy struct{}

func (failingStrategy) Name() string            { return "failing" }
func (failingStrategy) Supports(string) bool    { return true }
func (failingStrategy) Spans(string, string) ([]Span, error) {
	return nil, errors.New("boom")
}

func TestSplitStrategyError(t *testing.T) {
	_, err := NewPipeline(failingStrategy{}).Split(NewLoadedDocument("x", "text", "", "text/plain", nil))
	assert.ErrorIs(t, err, ErrUnsplittable)
	assert.Contains(t, err.Error(), "boom")
}

func sampleBatch(n int) []*LoadedDocument {
	docs := make([]*LoadedDocument, 0, n)
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("Document %d first. Document %d second! 第%d个文档。", i, i, i)
		docs = append(docs, NewLoadedDocument(fmt.Sprintf("doc-%d", i), content, fmt.Sprintf("src-%d", i), "text/plain", nil))
	}
	return docs
}

// TestSplitAllConcatenation 批量结果等于逐个切分结果的拼接
func TestSplitAllConcatenation(t *testing.T) {
	p := newSentencePipeline()
	docs := sampleBatch(5)

	var expected []Document
	for _, d := range docs {
		chunks, err := p.Split(d)
		require.NoError(t, err)
		expected = append(expected, chunks...)
	}

	result, err := p.SplitAll(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, expected, result.Documents)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 5, result.Total)
	assert.False(t, result.Cancelled)
	assert.False(t, result.HasFailures())
	assert.NoError(t, result.Err())
}

func TestSplitAllEmptyBatch(t *testing.T) {
	result, err := newSentencePipeline().SplitAll(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Documents)
	assert.Empty(t, result.Documents)
	assert.Equal(t, 0, result.Total)
}

func mixedBatch() []*LoadedDocument {
	return []*LoadedDocument{
		NewLoadedDocument("ok-1", "First doc.", "", "text/plain", nil),
		NewLoadedDocument("bad", "binary", "", "image/png", nil),
		NewLoadedDocument("ok-2", "Second doc.", "", "text/plain", nil),
	}
}

// TestSplitAllCollectsFailures 单个文档失败不影响其他文档
func TestSplitAllCollectsFailures(t *testing.T) {
	result, err := newSentencePipeline().SplitAll(context.Background(), mixedBatch())
	require.NoError(t, err)

	require.Len(t, result.Documents, 2)
	assert.Equal(t, "ok-1#0", result.Documents[0].ID)
	assert.Equal(t, "ok-2#0", result.Documents[1].ID)
	assert.Equal(t, 3, result.Processed)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, "bad", result.Failures[0].DocumentID)
	assert.ErrorIs(t, result.Err(), ErrUnsplittable)
}

func TestSplitAllFailFast(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := newSentencePipeline(WithFailFast(), WithWorkers(workers))
			result, err := p.SplitAll(context.Background(), mixedBatch())

			assert.ErrorIs(t, err, ErrUnsplittable)
			require.NotNil(t, result)
			require.Len(t, result.Failures, 1)
			assert.Equal(t, "bad", result.Failures[0].DocumentID)
			require.Len(t, result.Documents, 1)
			assert.Equal(t, "ok-1#0", result.Documents[0].ID)
		})
	}
}

func TestSplitAllContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newSentencePipeline().SplitAll(ctx, sampleBatch(3))
	assert.ErrorIs(t, err, ErrBatchCancelled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.Documents)
}

// cancelAfterReporter 汇报指定次数后进入取消状态
type cancelAfterReporter struct {
	mu      sync.Mutex
	after   int
	updates int
}

func (r *cancelAfterReporter) UpdateProgress(int, string) {
	r.mu.Lock()
	r.updates++
	r.mu.Unlock()
}
func (r *cancelAfterReporter) UpdatePercent(int)     {}
func (r *cancelAfterReporter) UpdateMessage(string)  {}
func (r *cancelAfterReporter) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates >= r.after
}

// TestSplitAllReporterCancel 取消时返回已完成的前缀
func TestSplitAllReporterCancel(t *testing.T) {
	docs := sampleBatch(4)
	p := newSentencePipeline(WithProgressReporter(&cancelAfterReporter{after: 2}))

	result, err := p.SplitAll(context.Background(), docs)
	assert.ErrorIs(t, err, ErrBatchCancelled)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.Processed)

	first, _ := p.Split(docs[0])
	second, _ := p.Split(docs[1])
	assert.Equal(t, append(first, second...), result.Documents)
}

// TestSplitAllParallelKeepsOrder 并发切分的结果顺序与顺序执行一致
func TestSplitAllParallelKeepsOrder(t *testing.T) {
	docs := sampleBatch(20)

	sequential, err := newSentencePipeline().SplitAll(context.Background(), docs)
	require.NoError(t, err)

	parallel, err := newSentencePipeline(WithWorkers(4)).SplitAll(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, sequential.Documents, parallel.Documents)
	assert.Equal(t, 20, parallel.Processed)
}

func TestSplitAllProgress(t *testing.T) {
	reporter := NewLogReporter(nil, nil)
	_, err := newSentencePipeline().WithReporter(reporter).SplitAll(context.Background(), sampleBatch(3))
	require.NoError(t, err)

	percent, message := reporter.Progress()
	assert.Equal(t, 100, percent)
	assert.Equal(t, "split 3/3 documents", message)
}

func TestLogReporter(t *testing.T) {
	r := NewLogReporter(nil, nil)
	r.UpdateProgress(150, "too much")
	percent, message := r.Progress()
	assert.Equal(t, 100, percent)
	assert.Equal(t, "too much", message)

	r.UpdatePercent(-3)
	percent, message = r.Progress()
	assert.Equal(t, 0, percent)
	assert.Equal(t, "too much", message)

	r.UpdateMessage("working")
	_, message = r.Progress()
	assert.Equal(t, "working", message)

	assert.False(t, r.IsCancelled())
	r.Cancel()
	assert.True(t, r.IsCancelled())
}
