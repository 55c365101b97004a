package service

import (
	"errors"
	"log/slog"

	"github.com/inkblog/internal/metrics"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrCategoryNotFound = errors.New("category not found")
	// ErrReadOnly 由受限（公开）变体的写操作返回。
	ErrReadOnly = errors.New("operation not permitted with the public key")
)

// Error 是内容存储失败在服务边界上的统一表示。
// Message 面向用户；Err 保留原始细节，仅用于日志与 errors.Is/As。
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// storeError 记录原始错误并包装成面向用户的 *Error。
func storeError(logger *slog.Logger, op, message string, err error) error {
	logger.Error("store operation failed", "op", op, "error", err)
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &Error{Op: op, Message: message, Err: err}
}
