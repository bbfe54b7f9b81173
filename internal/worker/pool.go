package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 等待队列已满
var ErrQueueFull = errors.New("build queue is full")

// ErrPoolStopped 池已停止
var ErrPoolStopped = errors.New("worker pool stopped")

// Handler 执行一个构建
type Handler interface {
	Execute(ctx context.Context, buildID string) error
}

// Pool Worker 池；构建之间共享工具链和输出目录，只使用一个 worker
type Pool struct {
	workers  int
	taskChan chan *Task
	handler  Handler
	logger   *logrus.Logger
	wg       sync.WaitGroup
	active   atomic.Int32

	mu       sync.RWMutex
	stopped  bool
	quit     chan struct{}
	quitOnce sync.Once
}

// Task 任务
type Task struct {
	BuildID  string
	resultCh chan error // 用于同步等待任务完成
}

// NewPool queueSize 为等待队列长度
func NewPool(queueSize int, handler Handler, logger *logrus.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Pool{
		workers:  1,
		taskChan: make(chan *Task, queueSize),
		handler:  handler,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Info("Task channel closed, worker exiting")
				return
			}

			// 停止后剩余的任务留在数据库中，下次启动时恢复
			if p.isStopped() {
				p.finish(task, ErrPoolStopped)
				continue
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"build_id":  task.BuildID,
			}).Info("Processing build")

			p.active.Add(1)
			err := p.handler.Execute(ctx, task.BuildID)
			p.active.Add(-1)

			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"build_id":  task.BuildID,
				}).Warn("Build finished with failure")
			} else {
				p.logger.WithFields(logrus.Fields{
					"worker_id": id,
					"build_id":  task.BuildID,
				}).Info("Build completed successfully")
			}

			p.finish(task, err)
		}
	}
}

func (p *Pool) finish(task *Task, err error) {
	if task.resultCh != nil {
		task.resultCh <- err
		close(task.resultCh)
	}
}

func (p *Pool) isStopped() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskChan <- task:
		p.logger.WithField("build_id", task.BuildID).Debug("Build submitted to pool")
		return nil
	default:
		return ErrQueueFull
	}
}

// Dispatch 实现 service.Dispatcher
func (p *Pool) Dispatch(_ context.Context, buildID string) error {
	return p.Submit(&Task{BuildID: buildID})
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case p.taskChan <- task:
		p.mu.RUnlock()
	case <-p.quit:
		p.mu.RUnlock()
		return ErrPoolStopped
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止接收任务并等待当前构建结束；排队中的任务不再执行
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")
	// 先通知阻塞中的提交者释放读锁
	p.quitOnce.Do(func() { close(p.quit) })
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.taskChan)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}

// Stats worker 数、执行中数量、排队数量
func (p *Pool) Stats() (size, active, queued int) {
	return p.workers, int(p.active.Load()), len(p.taskChan)
}
