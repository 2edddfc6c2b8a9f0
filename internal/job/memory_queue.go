package job

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示队列已经关闭。
var ErrQueueClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 实现的进程内队列。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- jobID:
		return nil
	}
}

// Len 返回排队中的任务数。
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume 启动指定数量的工作协程消费队列中的任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case jobID := <-q.ch:
					_ = handler(ctx, jobID)
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

// Close 关闭内存队列，正在运行的 Consume 随之返回。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
