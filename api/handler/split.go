package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SplitHandler 处理同步切分相关的API请求
type SplitHandler struct {
	ingestService *services.IngestService // 切分服务
	logger        *logrus.Logger          // 日志记录器
}

// NewSplitHandler 创建新的切分处理器
func NewSplitHandler(ingestService *services.IngestService) *SplitHandler {
	return &SplitHandler{
		ingestService: ingestService,
		logger:        middleware.GetLogger(),
	}
}

// Split 同步切分请求中的文档
// POST /api/split
func (h *SplitHandler) Split(c *gin.Context) {
	var req model.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid split request")
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"documents":  len(req.Documents),
		"split_type": req.Splitter.SplitType,
		"workers":    req.Workers,
	}).Info("Split request received")

	res, err := h.ingestService.SplitDocuments(c.Request.Context(), req.LoadedDocuments(), services.SplitOptions{
		Splitter: req.Splitter.ToConfig(),
		Workers:  req.Workers,
		FailFast: req.FailFast,
	})
	// 取消或快速失败时仍返回已完成的部分
	if res == nil || res.Result == nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.NewSplitResponse(res.Job, res.Result)
	// 只有一个文档时，它的失败就是整个请求的失败
	if err == nil && res.Result.Total == 1 && res.Result.HasFailures() {
		err = res.Result.Err()
	}
	if err != nil {
		appErr := middleware.FromError(err)
		h.logger.WithError(err).WithField("job_id", res.Job.ID).Warn("Split finished with errors")
		c.JSON(appErr.Code, &model.Response{
			Code:    appErr.Code,
			Message: err.Error(),
			Data:    resp,
			TraceID: c.GetString("TraceID"),
		})
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// Strategies 返回可用的切分策略和默认配置
// GET /api/strategies
func (h *SplitHandler) Strategies(c *gin.Context) {
	strategies := h.ingestService.Strategies()
	resp := model.StrategyListResponse{
		Strategies: make([]model.StrategyInfo, 0, len(strategies)),
		Defaults:   h.ingestService.DefaultSplitter(),
	}
	for _, s := range strategies {
		resp.Strategies = append(resp.Strategies, model.StrategyInfo{
			Name:        string(s.Name),
			Description: s.Description,
		})
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
