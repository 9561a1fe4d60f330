package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-ingest/api/handler"
	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 测试环境配置
type testEnv struct {
	Router        *gin.Engine
	Storage       storage.Storage
	Queue         taskqueue.Queue
	IngestService *services.IngestService
}

// 解析后的通用响应
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

// setupTestEnv 创建测试环境，async为true时启用miniredis任务队列
func setupTestEnv(t *testing.T, async bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbName := fmt.Sprintf("file:api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	fileStorage, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	env := &testEnv{Storage: fileStorage}
	opts := []services.IngestOption{
		services.WithDefaultSplitter(document.SplitterConfig{SplitType: document.ByParagraph, ChunkSize: 200}),
	}
	if async {
		mr := miniredis.RunT(t)
		queue, err := taskqueue.NewRedisQueue(&taskqueue.Config{RedisAddr: mr.Addr(), RetryLimit: 1})
		require.NoError(t, err)
		t.Cleanup(func() { queue.Close() })
		env.Queue = queue
		opts = append(opts, services.WithTaskQueue(queue))
	}

	env.IngestService = services.NewIngestService(fileStorage, repository.NewJobRepositoryWithDB(db), opts...)
	env.Router = SetupRouter(
		handler.NewSplitHandler(env.IngestService),
		handler.NewIngestHandler(env.IngestService, fileStorage),
		handler.NewTaskHandler(env.IngestService),
	)
	return env
}

// doJSON 发送JSON请求并解析响应
func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestTraceIDPropagation(t *testing.T) {
	env := setupTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-123", resp.TraceID)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSplit(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", map[string]any{
		"documents": []map[string]any{
			{"id": "doc-1", "content": "First paragraph.\n\nSecond paragraph.", "metadata": map[string]any{"lang": "en"}},
			{"id": "doc-2", "content": "Only paragraph."},
		},
		"splitter": map[string]any{"split_type": "paragraph", "chunk_size": 100},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, resp.Code)

	var data struct {
		Job struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Strategy   string `json:"strategy"`
			ChunkCount int    `json:"chunk_count"`
		} `json:"job"`
		Chunks    []document.Document `json:"chunks"`
		Processed int                 `json:"processed"`
		Total     int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	assert.Equal(t, "completed", data.Job.Status)
	assert.Equal(t, "paragraph", data.Job.Strategy)
	assert.Equal(t, 3, data.Job.ChunkCount)
	assert.Equal(t, 2, data.Total)
	assert.Equal(t, 2, data.Processed)

	require.Len(t, data.Chunks, 3)
	assert.Equal(t, "doc-1#0", data.Chunks[0].ID)
	assert.Equal(t, "First paragraph.", data.Chunks[0].Text)
	assert.Equal(t, "en", data.Chunks[0].Metadata["lang"])
	assert.Equal(t, "doc-1", data.Chunks[1].Metadata[document.MetaDocumentID])
	assert.Equal(t, "doc-2#0", data.Chunks[2].ID)

	// 作业可以通过作业API查询
	w, resp = doJSON(t, env.Router, http.MethodGet, "/api/jobs/"+data.Job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"status":"completed"`)
}

func TestSplitValidation(t *testing.T) {
	env := setupTestEnv(t, false)

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "no documents",
			body: map[string]any{"documents": []any{}},
		},
		{
			name: "unknown split type",
			body: map[string]any{
				"documents": []map[string]any{{"content": "text"}},
				"splitter":  map[string]any{"split_type": "semantic"},
			},
		},
		{
			name: "negative chunk size",
			body: map[string]any{
				"documents": []map[string]any{{"content": "text"}},
				"splitter":  map[string]any{"chunk_size": -1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Contains(t, resp.Message, "invalid request parameters")
		})
	}
}

func TestSplitUnsplittable(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", map[string]any{
		"documents": []map[string]any{{"id": "img", "content": "binary", "mime_type": "image/png"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Message, "image/png")
	assert.Contains(t, string(resp.Data), `"status":"failed"`)
}

func TestSplitPartialFailure(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", map[string]any{
		"documents": []map[string]any{
			{"id": "ok", "content": "Fine text."},
			{"id": "img", "content": "binary", "mime_type": "image/png"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Job      struct{ Status string } `json:"job"`
		Chunks   []document.Document     `json:"chunks"`
		Failures []document.Failure      `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "partial", data.Job.Status)
	assert.Len(t, data.Chunks, 1)
	require.Len(t, data.Failures, 1)
	assert.Equal(t, "img", data.Failures[0].DocumentID)
	assert.Equal(t, 1, data.Failures[0].Index)
	assert.NotEmpty(t, data.Failures[0].Message)
}

func TestStrategies(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Strategies []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"strategies"`
		Defaults document.SplitterConfig `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	names := make([]string, 0, len(data.Strategies))
	for _, s := range data.Strategies {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "markdown")
	assert.Contains(t, names, "auto")
	assert.Equal(t, document.ByParagraph, data.Defaults.SplitType)
	assert.Equal(t, 200, data.Defaults.ChunkSize)
}

func TestListJobs(t *testing.T) {
	env := setupTestEnv(t, false)

	for i := 0; i < 3; i++ {
		w, _ := doJSON(t, env.Router, http.MethodPost, "/api/split", map[string]any{
			"documents": []map[string]any{{"content": fmt.Sprintf("Document %d.", i)}},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, resp := doJSON(t, env.Router, http.MethodGet, "/api/jobs?page=1&page_size=2&mode=sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Total    int `json:"total"`
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Jobs     []struct {
			ID   string `json:"id"`
			Mode string `json:"mode"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 3, data.Total)
	assert.Equal(t, 2, data.PageSize)
	assert.Len(t, data.Jobs, 2)
	assert.Equal(t, "sync", data.Jobs[0].Mode)

	w, _ = doJSON(t, env.Router, http.MethodGet, "/api/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
