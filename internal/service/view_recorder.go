package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inkblog/internal/metrics"
)

const defaultViewTimeout = 3 * time.Second

// ViewCounter persists a single page view.
type ViewCounter interface {
	IncrementViewCount(ctx context.Context, postID string) bool
}

// ViewRecorder 在后台异步累计文章浏览数。
// Record 从不阻塞调用方：队列已满或已关闭时直接丢弃并记录日志；
// 写入失败只计入指标，不会回传给读者。
type ViewRecorder struct {
	counter ViewCounter
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan string
	wg     sync.WaitGroup
}

// NewViewRecorder 创建记录器并启动单个后台 worker。
func NewViewRecorder(counter ViewCounter, logger *slog.Logger, queueSize int) *ViewRecorder {
	if queueSize <= 0 {
		queueSize = 1
	}

	r := &ViewRecorder{
		counter: counter,
		logger:  logger.With("component", "view_recorder"),
		timeout: defaultViewTimeout,
		queue:   make(chan string, queueSize),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record 将一次浏览排入队列，返回是否被接受。
func (r *ViewRecorder) Record(postID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.ViewIncrements.WithLabelValues("dropped").Inc()
		return false
	}

	select {
	case r.queue <- postID:
		return true
	default:
		metrics.ViewIncrements.WithLabelValues("dropped").Inc()
		r.logger.Warn("view queue full, dropping view", "post_id", postID)
		return false
	}
}

// Close 停止接收新记录，并等待队列中剩余的记录写完或 ctx 结束。
func (r *ViewRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ViewRecorder) run() {
	defer r.wg.Done()

	for postID := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if r.counter.IncrementViewCount(ctx, postID) {
			metrics.ViewIncrements.WithLabelValues("ok").Inc()
		} else {
			metrics.ViewIncrements.WithLabelValues("failed").Inc()
		}
		cancel()
	}
}
