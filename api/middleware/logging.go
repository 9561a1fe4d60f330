package middleware

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = logrus.New()

// 初始化日志配置
func init() {
	// 设置输出到标准输出
	log.SetOutput(os.Stdout)
	// 设置日志格式为JSON格式
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	// 根据环境变量设置日志级别
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	Format     string `mapstructure:"format"`      // 日志格式：json或text
	File       string `mapstructure:"file"`        // 日志文件路径，为空时只输出到标准输出
	MaxSize    int    `mapstructure:"max_size"`    // 单个日志文件最大MB数
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `mapstructure:"max_age"`     // 旧日志文件保留天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧日志文件
}

// ConfigureLogger 按配置设置共享的日志记录器
// 配置了日志文件时同时输出到标准输出和按大小滚动的文件
func ConfigureLogger(cfg LogConfig) *logrus.Logger {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	if cfg.File != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	} else {
		log.SetOutput(os.Stdout)
	}
	return log
}

// maxLoggedBody 调试日志中请求体和响应体最多记录的字节数
const maxLoggedBody = 4 << 10

// Logger 访问日志中间件
// 5xx记为Error，4xx记为Warn，其余记为Info
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			FieldStatus:   status,
			FieldLatency:  time.Since(start).String(),
			FieldClientIP: c.ClientIP(),
			FieldMethod:   c.Request.Method,
			FieldPath:     path,
			FieldTraceID:  c.GetString("TraceID"),
			"bytes":       c.Writer.Size(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField(FieldError, c.Errors.Last().Error())
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// RequestBodyLog 在DEBUG级别记录请求体的前maxLoggedBody字节
// 文件上传只记录长度，处理器仍能读到完整的请求体
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) || c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}

		entry := log.WithFields(logrus.Fields{
			FieldMethod:  c.Request.Method,
			FieldPath:    c.Request.URL.Path,
			FieldTraceID: c.GetString("TraceID"),
		})

		if strings.HasPrefix(strings.ToLower(c.ContentType()), "multipart/") {
			entry.WithField("content_length", c.Request.ContentLength).Debug("Request body skipped for multipart upload")
			c.Next()
			return
		}

		body := c.Request.Body
		head, err := io.ReadAll(io.LimitReader(body, maxLoggedBody+1))
		c.Request.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), body), body}
		if err != nil {
			entry.WithError(err).Debug("Failed to read request body")
		} else if len(head) > 0 {
			entry.WithFields(bodyFields("body", head)).Debug("Request body")
		}

		c.Next()
	}
}

// ResponseLogger 在DEBUG级别记录响应体的前maxLoggedBody字节
func ResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) {
			c.Next()
			return
		}

		writer := &cappedBodyWriter{ResponseWriter: c.Writer, limit: maxLoggedBody}
		c.Writer = writer
		c.Next()

		fields := bodyFields("response", writer.body.Bytes())
		fields["truncated"] = writer.truncated
		log.WithFields(logrus.Fields{
			FieldMethod:  c.Request.Method,
			FieldPath:    c.Request.URL.Path,
			FieldStatus:  c.Writer.Status(),
			FieldTraceID: c.GetString("TraceID"),
		}).WithFields(fields).Debug("Response body")
	}
}

// bodyFields 截断到maxLoggedBody字节后的日志字段
func bodyFields(key string, body []byte) logrus.Fields {
	truncated := len(body) > maxLoggedBody
	if truncated {
		body = body[:maxLoggedBody]
	}
	return logrus.Fields{key: string(body), "truncated": truncated}
}

// cappedBodyWriter 转发响应的同时保留前limit字节
type cappedBodyWriter struct {
	gin.ResponseWriter
	body      bytes.Buffer
	limit     int
	truncated bool
}

func (w *cappedBodyWriter) capture(b []byte) {
	room := w.limit - w.body.Len()
	if len(b) > room {
		b = b[:max(room, 0)]
		w.truncated = true
	}
	w.body.Write(b)
}

func (w *cappedBodyWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *cappedBodyWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

// SetTraceID 将追踪ID设置到上下文和响应头中
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从请求头中获取追踪ID
		traceID := c.GetHeader("X-Trace-ID")

		// 如果没有，则生成一个新的
		if traceID == "" {
			traceID = generateTraceID()
		}

		// 设置到上下文
		c.Set("TraceID", traceID)

		// 设置到响应头
		c.Header("X-Trace-ID", traceID)

		c.Next()
	}
}

// generateTraceID 生成追踪ID
func generateTraceID() string {
	return time.Now().Format("20060102150405") + "-" + uuid.New().String()[:8]
}

// 常用日志字段
const (
	FieldTraceID  = "trace_id"    // 追踪ID
	FieldJobID    = "job_id"      // 作业ID
	FieldPath     = "path"        // 请求路径
	FieldMethod   = "method"      // 请求方法
	FieldStatus   = "status_code" // 状态码
	FieldLatency  = "latency"     // 延迟时间
	FieldClientIP = "client_ip"   // 客户端IP
	FieldError    = "error"       // 错误信息
)

// GetLogger 返回共享的日志记录器
func GetLogger() *logrus.Logger {
	return log
}
