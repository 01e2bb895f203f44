package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Task 是后台执行的单个任务，例如发送一封邮件。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Observer 接收任务执行结果与队列深度变化，用于上报指标。
type Observer interface {
	TaskDone(name string, err error)
	Depth(n int)
}

// Queue 是有界的内存任务队列，由固定数量的 worker 消费。
// 队列满或已关闭时 Submit 立即返回 false，调用方不会被阻塞。
type Queue struct {
	logger      *slog.Logger
	workers     int
	tasks       chan Task
	taskTimeout time.Duration
	observer    Observer

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	stats queueStats
}

type queueStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 是队列计数的快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// New 创建队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 缓冲容量（至少为 1）
//   - taskTimeout: 单个任务的超时时间，0 表示不限制
func New(logger *slog.Logger, workers, capacity int, taskTimeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger:      logger,
		workers:     workers,
		tasks:       make(chan Task, capacity),
		taskTimeout: taskTimeout,
	}
}

// SetObserver 设置指标观察者，需在 Start 之前调用。
func (q *Queue) SetObserver(o Observer) {
	q.observer = o
}

// Start 启动 worker。worker 在队列关闭且任务排空后退出，
// ctx 取消时会放弃尚未开始的任务。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.reportDepth()
			q.run(ctx, task, id)
		}
	}
}

func (q *Queue) run(ctx context.Context, task Task, workerID int) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			err = fmt.Errorf("panic: %v", r)
			q.logger.Error("task panic recovered",
				slog.String("task", task.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		if err != nil {
			q.stats.failed.Add(1)
		} else {
			q.stats.succeeded.Add(1)
		}
		if q.observer != nil {
			q.observer.TaskDone(task.Name, err)
		}
	}()

	runCtx := ctx
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}

	err = task.Run(runCtx)
	if err != nil {
		q.logger.Warn("task failed",
			slog.String("task", task.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
	}
}

// Submit 非阻塞地提交任务。
//
// 返回值:
//   - bool: 是否成功入队（队列满或已关闭时为 false）
func (q *Queue) Submit(task Task) bool {
	if task.Run == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue is closed, reject task", slog.String("task", task.Name))
		return false
	}

	select {
	case q.tasks <- task:
		q.stats.submitted.Add(1)
		q.reportDepth()
		return true
	default:
		q.stats.dropped.Add(1)
		q.logger.Warn("queue full, drop task",
			slog.String("task", task.Name),
			slog.Int("capacity", cap(q.tasks)))
		return false
	}
}

// Shutdown 拒绝新任务并等待已入队任务执行完毕，超时返回错误。
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue already closed")
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained", slog.Int64("succeeded", q.stats.succeeded.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue shutdown timeout after %s", timeout)
	}
}

// Stats 返回计数快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.stats.submitted.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回待处理任务数。
func (q *Queue) Len() int {
	return len(q.tasks)
}

func (q *Queue) reportDepth() {
	if q.observer != nil {
		q.observer.Depth(len(q.tasks))
	}
}
