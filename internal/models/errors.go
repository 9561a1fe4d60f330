package models

import "errors"

var (
	// ErrJobNotFound 切分作业不存在
	ErrJobNotFound = errors.New("ingestion job not found")

	// ErrInvalidJobStatus 无效的作业状态
	ErrInvalidJobStatus = errors.New("invalid job status")
)
