package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LocalStorage 本地文件存储实现
// 文件按日期分目录保存为 <id><ext>
type LocalStorage struct {
	basePath string
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string `mapstructure:"path"` // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.Path == "" {
		cfg.Path = "./uploads"
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: absPath}, nil
}

// Save 保存文件到本地存储
func (s *LocalStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	ext := filepath.Ext(filename)

	now := time.Now()
	datePath := filepath.Join(fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	dirPath := filepath.Join(s.basePath, datePath)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dirPath, id+ext))
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, reader)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     filename,
		Size:     size,
		MimeType: MimeTypeByExt(filename),
		Path:     filepath.Join(datePath, id+ext),
	}, nil
}

// Get 获取文件内容
func (s *LocalStorage) Get(id string) (io.ReadCloser, error) {
	info, err := s.find(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.basePath, info.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Stat 获取文件信息，Name为存储时的文件名
func (s *LocalStorage) Stat(id string) (FileInfo, error) {
	return s.find(id)
}

// Delete 删除文件
func (s *LocalStorage) Delete(id string) error {
	info, err := s.find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.basePath, info.Path)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List 列出所有文件
func (s *LocalStorage) List() ([]FileInfo, error) {
	var files []FileInfo
	err := s.walk(func(info FileInfo) bool {
		files = append(files, info)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(id string) (bool, error) {
	_, err := s.find(id)
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	return err == nil, err
}

// find 根据ID查找文件
func (s *LocalStorage) find(id string) (FileInfo, error) {
	var (
		found FileInfo
		ok    bool
	)
	err := s.walk(func(info FileInfo) bool {
		if info.ID == id {
			found, ok = info, true
			return false
		}
		return true
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("error searching for file: %w", err)
	}
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return found, nil
}

// walk 遍历存储目录，visit返回false时停止
func (s *LocalStorage) walk(visit func(FileInfo) bool) error {
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		stat, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		name := d.Name()
		if !visit(FileInfo{
			ID:       idFromName(name),
			Name:     name,
			Size:     stat.Size(),
			MimeType: MimeTypeByExt(name),
			Path:     relPath,
		}) {
			return fs.SkipAll
		}
		return nil
	})
	return err
}
