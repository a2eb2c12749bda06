package scheduler

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// ErrPoolClosed 表示任务池已经关闭，不再接受新任务
var ErrPoolClosed = errors.New("worker pool is closed")

type task struct {
	name string
	run  func(ctx context.Context)
}

// Pool 是固定数量 worker 的后台任务池。任务之间互不影响：一个任务 panic 只记日志。
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   chan task
	workers sync.WaitGroup
	mu      sync.RWMutex // 保护 closed 和 tasks 的关闭
	closed  bool
	logger  *log.Logger

	// pending 是已提交未结束的任务数，Wait 可以和 Submit 并发调用
	pendingMu sync.Mutex
	idle      *sync.Cond
	pending   int
}

// NewPool 启动 workers 个 worker，队列长度为 queueSize
func NewPool(ctx context.Context, workers, queueSize int, logger *log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, queueSize),
		logger: logger,
	}
	p.idle = sync.NewCond(&p.pendingMu)
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work()
	}
	return p
}

// Submit 把任务放入队列，队列满时阻塞直到有空位或 ctx 结束
func (p *Pool) Submit(ctx context.Context, name string, run func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.addPending(1)
	select {
	case p.tasks <- task{name: name, run: run}:
		return nil
	case <-ctx.Done():
		p.addPending(-1)
		return ctx.Err()
	case <-p.ctx.Done():
		p.addPending(-1)
		return ErrPoolClosed
	}
}

// Wait 等到没有未结束的任务为止，等待期间新提交的任务也会被等待
func (p *Pool) Wait() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for p.pending > 0 {
		p.idle.Wait()
	}
}

func (p *Pool) addPending(n int) {
	p.pendingMu.Lock()
	p.pending += n
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.pendingMu.Unlock()
}

// Close 停止接收新任务，等队列里的任务执行完后返回
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.workers.Wait()
	p.cancel()
}

func (p *Pool) work() {
	defer p.workers.Done()
	for t := range p.tasks {
		p.runTask(t)
	}
}

func (p *Pool) runTask(t task) {
	defer p.addPending(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("ERROR: task %s panicked: %v\n%s", t.name, r, debug.Stack())
		}
	}()
	start := time.Now()
	t.run(p.ctx)
	p.logger.Printf("Task %s finished in %v", t.name, time.Since(start).Round(time.Millisecond))
}

// Every 每隔 interval 执行一次 fn，直到 ctx 结束。fn 的错误只记日志。
func Every(ctx context.Context, interval time.Duration, name string, fn func(ctx context.Context) error, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Printf("Scheduled %s every %v", name, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Printf("ERROR: scheduled %s failed: %v", name, err)
			}
		}
	}
}
