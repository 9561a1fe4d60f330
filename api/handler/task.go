package handler

import (
	"net/http"
	"time"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理异步任务和作业相关的API请求
type TaskHandler struct {
	ingestService *services.IngestService // 切分服务
	logger        *logrus.Logger          // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(ingestService *services.IngestService) *TaskHandler {
	return &TaskHandler{
		ingestService: ingestService,
		logger:        middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// 指定wait参数时等待任务结束，超时后返回当前状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var uri model.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid task id", err.Error()))
		return
	}
	var query model.TaskWaitRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	ctx := c.Request.Context()
	task, err := h.ingestService.GetTask(ctx, uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	if query.Wait > 0 && !task.Status.IsTerminal() {
		waited, err := h.ingestService.WaitForTask(ctx, uri.ID, time.Duration(query.Wait)*time.Second)
		if err != nil {
			// 等待超时时返回最新的状态
			h.logger.WithError(err).WithField("task_id", uri.ID).Debug("Task still running after wait")
			if waited, err = h.ingestService.GetTask(ctx, uri.ID); err != nil {
				middleware.HandleError(c, err)
				return
			}
		}
		task = waited
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskResponse(task)))
}

// CancelTask 取消任务
// DELETE /api/tasks/:id
func (h *TaskHandler) CancelTask(c *gin.Context) {
	var uri model.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid task id", err.Error()))
		return
	}

	if err := h.ingestService.CancelTask(c.Request.Context(), uri.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithField("task_id", uri.ID).Info("Task cancellation requested")
	task, err := h.ingestService.GetTask(c.Request.Context(), uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskResponse(task)))
}

// GetJob 获取作业详情
// GET /api/jobs/:id
func (h *TaskHandler) GetJob(c *gin.Context) {
	var uri model.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid job id", err.Error()))
		return
	}

	job, err := h.ingestService.GetJob(c.Request.Context(), uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewJobInfo(job)))
}

// ListJobs 获取作业列表
// GET /api/jobs
func (h *TaskHandler) ListJobs(c *gin.Context) {
	var req model.JobListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	filter := repository.JobFilter{
		Status:   models.JobStatus(req.Status),
		Strategy: req.Strategy,
		Mode:     models.JobMode(req.Mode),
	}
	jobs, total, err := h.ingestService.ListJobs(c.Request.Context(), req.Offset(), req.GetPageSize(), filter)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.JobListResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    int(total),
			Page:     req.GetPage(),
			PageSize: req.GetPageSize(),
		},
		Jobs: make([]*model.JobInfo, 0, len(jobs)),
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, model.NewJobInfo(job))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
