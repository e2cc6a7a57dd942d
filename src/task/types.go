package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType represents different types of async tasks
type TaskType string

// TaskStatus represents the current status of a task
type TaskStatus string

// TaskExecutor defines the function signature for task execution
type TaskExecutor func(t *Task) error

const (
	// 流水线的慢阶段都走异步任务，HTTP接口只负责提交与查询
	TaskTypeAnalyze   TaskType = "analyze"   // 图层分析（单次Oracle调用）
	TaskTypeIsolate   TaskType = "isolate"   // 图层抠取（带重试循环，可能跑数分钟）
	TaskTypeBenchmark TaskType = "benchmark" // 抠取策略对比
)

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// executionTimeout 各类型任务的执行超时
func executionTimeout(taskType TaskType) time.Duration {
	switch taskType {
	case TaskTypeIsolate:
		return 10 * time.Minute
	case TaskTypeBenchmark:
		return 15 * time.Minute
	default:
		return 2 * time.Minute
	}
}

// TaskRegistry manages task type to executor mappings
type TaskRegistry struct {
	executors map[TaskType]TaskExecutor
	mu        sync.RWMutex
}

// Global task registry instance
var taskRegistry = &TaskRegistry{
	executors: make(map[TaskType]TaskExecutor),
}

// RegisterTaskExecutor registers a task executor for a specific task type
func RegisterTaskExecutor(taskType TaskType, executor TaskExecutor) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.executors[taskType] = executor
}

// GetTaskExecutor retrieves the executor for a specific task type
func GetTaskExecutor(taskType TaskType) (TaskExecutor, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	executor, exists := taskRegistry.executors[taskType]
	return executor, exists
}

// Task represents an async task with its properties and callback
type Task struct {
	ID        string
	Type      TaskType
	Status    TaskStatus
	Params    interface{}
	Result    interface{}
	Error     error
	Callback  TaskCallback
	CreatedAt time.Time
	UpdatedAt time.Time
	ClientID  string
	Context   context.Context

	// finishOnce 终态只提交一次：超时先判失败后，迟到的执行结果不再通知
	finishOnce sync.Once
}

func NewTask(ctx context.Context, taskType TaskType, params interface{}) (task *Task, id string) {
	id = uuid.New().String()
	return &Task{
		ID:        id,
		Type:      taskType,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: time.Now(),
		Context:   ctx,
	}, id
}

// fail 提交失败终态并通知，至多生效一次
func (t *Task) fail(err error) {
	t.finishOnce.Do(func() {
		t.Status = TaskStatusFailed
		t.Error = err
		t.UpdatedAt = time.Now()
		if t.Callback != nil {
			t.Callback.OnError(err)
		}
	})
}

// complete 提交完成终态并通知，至多生效一次
func (t *Task) complete() {
	t.finishOnce.Do(func() {
		t.Status = TaskStatusComplete
		t.UpdatedAt = time.Now()
		if t.Callback != nil {
			t.Callback.OnComplete(t.Result)
		}
	})
}

// Execute executes the task and calls appropriate callbacks
func (t *Task) Execute() {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("task panicked: %v", r))
		}
	}()

	// 客户端已断开的任务不再执行
	select {
	case <-t.Context.Done():
		t.fail(t.Context.Err())
		return
	default:
	}

	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()

	executor, exists := GetTaskExecutor(t.Type)
	if !exists {
		t.fail(fmt.Errorf("no executor registered for task type: %v", t.Type))
		return
	}
	if err := executor(t); err != nil {
		t.fail(err)
		return
	}
	t.complete()
}

// TaskCallback defines the interface for task completion handling
type TaskCallback interface {
	OnComplete(result interface{})
	OnError(err error)
}

// WorkerStatus represents the current status of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// ResourceConfig defines resource limits for task execution
type ResourceConfig struct {
	MaxWorkers        int
	MaxTasksPerClient int
}
