package document

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsplittable 文档无法被当前策略切分
	ErrUnsplittable = errors.New("unsplittable content")

	// ErrNilDocument 传入了空文档
	ErrNilDocument = errors.New("nil document")

	// ErrBatchCancelled 批量切分被取消
	ErrBatchCancelled = errors.New("batch split cancelled")

	// ErrUnknownStrategy 未知的切分策略
	ErrUnknownStrategy = errors.New("unknown split strategy")
)

// UnsplittableError 无法切分的文档错误
// 与空文档区分：空文档返回空切片，不可切分的文档返回该错误
type UnsplittableError struct {
	DocumentID string // 文档ID
	MimeType   string // 文档类型
	Strategy   string // 策略名称
	Reason     string // 原因
	Err        error  // 底层错误（可选）
}

// Error 实现error接口
func (e *UnsplittableError) Error() string {
	msg := fmt.Sprintf("document %q (%s) cannot be split by %s: %s", e.DocumentID, e.MimeType, e.Strategy, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *UnsplittableError) Unwrap() error {
	return e.Err
}

// Is 使errors.Is(err, ErrUnsplittable)成立
func (e *UnsplittableError) Is(target error) bool {
	return target == ErrUnsplittable
}

// IsUnsplittable 判断错误是否为不可切分错误
func IsUnsplittable(err error) bool {
	return errors.Is(err, ErrUnsplittable)
}
