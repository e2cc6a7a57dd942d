package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"papercut-studio-go/src/core/utils"
)

// WorkerPool manages a pool of workers for executing tasks
type WorkerPool struct {
	config        ResourceConfig
	workers       []*Worker
	taskQueue     chan *Task
	stopChan      chan struct{}
	idleWorkers   chan *Worker
	clientManager *ClientManager
	logger        *utils.Logger
	mu            sync.RWMutex
}

// Worker represents a task execution worker
type Worker struct {
	id       string
	status   WorkerStatus
	taskChan chan *Task
	stopChan chan struct{}
	pool     *WorkerPool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config ResourceConfig, clientManager *ClientManager, logger *utils.Logger) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	wp := &WorkerPool{
		config:        config,
		taskQueue:     make(chan *Task, config.MaxWorkers*2),
		stopChan:      make(chan struct{}),
		idleWorkers:   make(chan *Worker, config.MaxWorkers),
		clientManager: clientManager,
		logger:        logger,
	}

	wp.initWorkers()
	return wp
}

func (wp *WorkerPool) initWorkers() {
	wp.workers = make([]*Worker, wp.config.MaxWorkers)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		worker := newWorker(fmt.Sprintf("worker-%d", i), wp)
		wp.workers[i] = worker
		// 初始化时所有工作者都是空闲的
		wp.idleWorkers <- worker
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, worker := range wp.workers {
		go worker.start()
	}

	go wp.distributeItems()
}

// Stop stops the worker pool
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	close(wp.stopChan)
	for _, worker := range wp.workers {
		worker.stop()
	}
}

// Submit submits a task to the worker pool
func (wp *WorkerPool) Submit(task *Task) error {
	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// distributeItems distributes tasks to appropriate workers
func (wp *WorkerPool) distributeItems() {
	for {
		select {
		case <-wp.stopChan:
			return
		case task := <-wp.taskQueue:
			wp.assignTask(task)
		}
	}
}

// assignTask assigns a task to an available worker
func (wp *WorkerPool) assignTask(task *Task) {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		task.fail(fmt.Errorf("no executor registered for task type: %v", task.Type))
		wp.releaseQuota(task)
		return
	}

	select {
	case worker := <-wp.idleWorkers:
		worker.assignTask(task)
	case <-time.After(10 * time.Second):
		// 超时处理：直接失败，不重排队
		task.fail(fmt.Errorf("no available workers within timeout"))
		wp.releaseQuota(task)
	}
}

// releaseQuota 归还客户端并发名额
func (wp *WorkerPool) releaseQuota(task *Task) {
	if task.ClientID == "" || wp.clientManager == nil {
		return
	}
	if ctx, err := wp.clientManager.GetClientContext(task.ClientID); err == nil {
		ctx.ResourceQuota.Release()
	}
}

// workerFinished 当工作者完成任务时调用
func (wp *WorkerPool) workerFinished(worker *Worker) {
	select {
	case wp.idleWorkers <- worker:
	default:
		if wp.logger != nil {
			wp.logger.FormatWarn("工作者 %s 归还空闲池失败", worker.id)
		}
	}
}

// newWorker creates a new worker
func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:       id,
		status:   WorkerStatusIdle,
		taskChan: make(chan *Task, 1),
		stopChan: make(chan struct{}),
		pool:     pool,
	}
}

// start starts the worker
func (w *Worker) start() {
	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskChan:
			w.executeTask(task)
		}
	}
}

// executeTask executes a task
func (w *Worker) executeTask(task *Task) {
	w.status = WorkerStatusBusy

	defer func() {
		w.status = WorkerStatusIdle
		w.pool.workerFinished(w)
		w.pool.releaseQuota(task)
	}()

	// 按任务类型设定超时，抠取任务自带重试循环要等得久
	ctx, cancel := context.WithTimeout(task.Context, executionTimeout(task.Type))
	defer cancel()
	task.Context = ctx

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				task.fail(fmt.Errorf("task panicked: %v", r))
			}
		}()
		task.Execute()
	}()

	select {
	case <-done:
		// 任务正常完成
	case <-ctx.Done():
		// 超时先提交失败终态，迟到的执行结果由终态保护丢弃
		task.fail(ctx.Err())
	}
}

// stop stops the worker
func (w *Worker) stop() {
	w.status = WorkerStatusStopped
	close(w.stopChan)
}

// assignTask assigns a task to the worker
func (w *Worker) assignTask(task *Task) {
	select {
	case w.taskChan <- task:
	default:
		// taskChan 有缓冲，正常不会走到这里
		if w.pool.logger != nil {
			w.pool.logger.FormatWarn("任务分配给工作者 %s 失败", w.id)
		}
	}
}
