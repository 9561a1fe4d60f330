package storage

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrFileNotFound 文件不存在
var ErrFileNotFound = errors.New("file not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string `json:"id"`        // 文件唯一标识符
	Name     string `json:"name"`      // 原始文件名
	Size     int64  `json:"size"`      // 文件大小(字节)
	MimeType string `json:"mime_type"` // 文件MIME类型
	Path     string `json:"path"`      // 内部存储路径(实现相关)
}

// Storage 待切分文件的存储接口
// 上传的原始文件先保存在这里，异步任务再按ID读取
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(id string) (io.ReadCloser, error)

	// Stat 获取文件信息
	Stat(id string) (FileInfo, error)

	// Delete 删除文件
	Delete(id string) error

	// List 列出所有文件
	List() ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(id string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string      `mapstructure:"type" validate:"oneof=local minio"` // 存储类型
	Local LocalConfig `mapstructure:"local"`                             // 本地存储配置
	Minio MinioConfig `mapstructure:"minio"`                             // MinIO存储配置
}

// New 根据配置创建存储
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// extMimeTypes 支持切分的文件扩展名
var extMimeTypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
	".xml":      "application/xml",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".java":     "text/x-java",
	".js":       "text/javascript",
	".mjs":      "text/javascript",
	".ts":       "text/typescript",
	".pdf":      "application/pdf",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// MimeTypeByExt 根据文件扩展名判断MIME类型
func MimeTypeByExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extMimeTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// idFromName 从存储的文件名中取出ID
func idFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
