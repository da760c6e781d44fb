package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"teledrive-go/pkg/log"
)

var (
	ErrQueueFull   = errors.New("relay queue is full")
	ErrQueueClosed = errors.New("relay queue is closed")
)

// LocalQueue 是进程内的任务队列：带缓冲的 channel 加固定数量的 worker。
// 失败的任务在同一个 worker 内按退避重试，达到 maxAttempts 后丢弃并记录日志。
type LocalQueue struct {
	ch          chan RelayTask
	workers     int
	maxAttempts int
	backoff     time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalQueue 创建队列，参数小于 1 时取 1。
func NewLocalQueue(size, workers, maxAttempts int) *LocalQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &LocalQueue{
		ch:          make(chan RelayTask, size),
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     2 * time.Second,
	}
}

// SetBackoff 调整重试间隔，测试中使用。
func (q *LocalQueue) SetBackoff(d time.Duration) {
	q.backoff = d
}

// Start 启动 worker。ctx 取消时正在等待重试的任务会被放弃。
func (q *LocalQueue) Start(ctx context.Context, p Processor) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for task := range q.ch {
				q.run(ctx, p, task)
			}
			log.Debugf("[LocalQueue] worker %d 已退出", worker)
		}(i)
	}
	log.Infof("[LocalQueue] 进程内转发队列已启动, workers=%d, capacity=%d", q.workers, cap(q.ch))
}

func (q *LocalQueue) run(ctx context.Context, p Processor, task RelayTask) {
	for {
		task.Attempt++
		err := p.Process(ctx, task)
		if err == nil {
			return
		}
		if task.Attempt >= q.maxAttempts {
			log.Errorf("[LocalQueue] 任务多次失败(>=%d)，放弃: fileID=%s, error=%v", q.maxAttempts, task.FileID, err)
			return
		}
		log.Warnf("[LocalQueue] 任务失败，%s 后重试: fileID=%s, attempt=%d, error=%v", q.backoff, task.FileID, task.Attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff):
		}
	}
}

// Dispatch 不阻塞地放入任务，队列满时返回 ErrQueueFull。
func (q *LocalQueue) Dispatch(ctx context.Context, task RelayTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close 停止接收新任务，并等待已入队的任务处理完。
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
