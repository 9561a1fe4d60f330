package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// filenameMeta 原始文件名保存在对象的用户元数据中
const filenameMeta = "Filename"

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client
	bucketName string
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`   // MinIO服务端点
	AccessKey string `mapstructure:"access_key"` // 访问密钥ID
	SecretKey string `mapstructure:"secret_key"` // 秘密访问密钥
	UseSSL    bool   `mapstructure:"use_ssl"`    // 是否使用SSL
	Bucket    string `mapstructure:"bucket"`     // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例，存储桶不存在时自动创建
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Save 上传文件到MinIO
func (s *MinioStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	now := time.Now()
	objectName := fmt.Sprintf("%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), id, filepath.Ext(filename))

	// 待切分的文档一般不大，读入内存以得到准确的大小
	content, err := io.ReadAll(reader)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read file content: %w", err)
	}

	contentType := MimeTypeByExt(filename)
	_, err = s.client.PutObject(
		context.Background(),
		s.bucketName,
		objectName,
		bytes.NewReader(content),
		int64(len(content)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{filenameMeta: filename},
		},
	)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     filename,
		Size:     int64(len(content)),
		MimeType: contentType,
		Path:     objectName,
	}, nil
}

// Get 获取文件内容
func (s *MinioStorage) Get(id string) (io.ReadCloser, error) {
	info, err := s.find(id)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(context.Background(), s.bucketName, info.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Stat 获取文件信息，Name为上传时的原始文件名
func (s *MinioStorage) Stat(id string) (FileInfo, error) {
	info, err := s.find(id)
	if err != nil {
		return FileInfo{}, err
	}
	obj, err := s.client.StatObject(context.Background(), s.bucketName, info.Path, minio.StatObjectOptions{})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat object: %w", err)
	}
	if name := obj.UserMetadata[filenameMeta]; name != "" {
		info.Name = name
	}
	if obj.ContentType != "" {
		info.MimeType = obj.ContentType
	}
	return info, nil
}

// Delete 删除文件
func (s *MinioStorage) Delete(id string) error {
	info, err := s.find(id)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(context.Background(), s.bucketName, info.Path, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出所有文件
func (s *MinioStorage) List() ([]FileInfo, error) {
	var files []FileInfo
	err := s.walk(func(info FileInfo) bool {
		files = append(files, info)
		return true
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Exists 检查文件是否存在
func (s *MinioStorage) Exists(id string) (bool, error) {
	found := false
	err := s.walk(func(info FileInfo) bool {
		found = info.ID == id
		return !found
	})
	return found, err
}

func (s *MinioStorage) find(id string) (FileInfo, error) {
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
		return FileInfo{}, err
	}
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return found, nil
}

// walk 遍历存储桶中的对象，visit返回false时停止
func (s *MinioStorage) walk(visit func(FileInfo) bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("error listing objects: %w", object.Err)
		}
		if !visit(FileInfo{
			ID:       idFromName(object.Key),
			Name:     filepath.Base(object.Key),
			Size:     object.Size,
			MimeType: MimeTypeByExt(object.Key),
			Path:     object.Key,
		}) {
			return nil
		}
	}
	return nil
}
