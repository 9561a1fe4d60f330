package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/fyerfyer/doc-ingest/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IngestHandler 处理文件上传和批量切分相关的API请求
type IngestHandler struct {
	ingestService *services.IngestService // 切分服务
	fileStorage   storage.Storage         // 文件存储服务
	logger        *logrus.Logger          // 日志记录器
}

// NewIngestHandler 创建新的文件处理器
func NewIngestHandler(ingestService *services.IngestService, fileStorage storage.Storage) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
		fileStorage:   fileStorage,
		logger:        middleware.GetLogger(),
	}
}

// UploadDocument 处理文档上传请求
// 同步模式直接返回分块，异步模式返回作业和任务ID
// POST /api/documents
func (h *IngestHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid document upload request")
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	metadata, err := req.ParseMetadata()
	if err != nil {
		middleware.HandleError(c, middleware.NewValidationError("metadata must be a JSON object", err.Error()))
		return
	}
	if req.Async && !h.ingestService.AsyncEnabled() {
		middleware.HandleError(c, services.ErrAsyncDisabled)
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": req.File.Filename,
		}).Error("Failed to open uploaded file")
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	opts := services.SplitOptions{Splitter: req.SplitterRequest.ToConfig()}
	ctx := c.Request.Context()

	if !req.Async {
		res, err := h.ingestService.IngestFile(ctx, file, req.File.Filename, metadata, opts)
		if res == nil || res.Result == nil {
			middleware.HandleError(c, err)
			return
		}

		resp := model.NewDocumentUploadResponse(res.File)
		resp.Split = model.NewSplitResponse(res.Job, res.Result)
		if err == nil && res.Result.HasFailures() {
			err = res.Result.Err()
		}
		if err != nil {
			appErr := middleware.FromError(err)
			c.JSON(appErr.Code, &model.Response{
				Code:    appErr.Code,
				Message: err.Error(),
				Data:    resp,
				TraceID: c.GetString("TraceID"),
			})
			return
		}
		c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
		return
	}

	info, err := h.ingestService.StoreFile(ctx, file, req.File.Filename)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	job, err := h.ingestService.SubmitBatch(ctx, &taskqueue.SplitBatchPayload{
		Files:    []taskqueue.FileRef{{FileID: info.ID, Filename: req.File.Filename, Metadata: metadata}},
		Splitter: opts.Splitter,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.NewDocumentUploadResponse(info)
	resp.Async = true
	resp.Job = model.NewJobInfo(job)
	resp.TaskID = job.TaskID
	c.JSON(http.StatusAccepted, model.NewSuccessResponse(resp))
}

// DeleteDocument 删除已上传的文件
// DELETE /api/documents/:id
func (h *IngestHandler) DeleteDocument(c *gin.Context) {
	var req model.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid file id", err.Error()))
		return
	}

	if err := h.fileStorage.Delete(req.ID); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to delete document")
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithField("file_id", req.ID).Info("Document deleted successfully")
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentDeleteResponse{
		Success: true,
		FileID:  req.ID,
	}))
}

// SubmitBatch 提交异步批量切分
// POST /api/batches
func (h *IngestHandler) SubmitBatch(c *gin.Context) {
	var req model.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid batch request")
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	job, err := h.ingestService.SubmitBatch(c.Request.Context(), req.ToPayload())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.BatchResponse{
		Job:    model.NewJobInfo(job),
		TaskID: job.TaskID,
	}))
}
