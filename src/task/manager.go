package task

import (
	"fmt"

	"papercut-studio-go/src/core/utils"
)

// TaskManager manages async tasks and their execution
type TaskManager struct {
	workerPool    *WorkerPool
	clientManager *ClientManager
}

// NewTaskManager creates a new TaskManager instance
func NewTaskManager(config ResourceConfig, logger *utils.Logger) *TaskManager {
	cm := NewClientManager(config.MaxTasksPerClient)
	return &TaskManager{
		clientManager: cm,
		workerPool:    NewWorkerPool(config, cm, logger),
	}
}

// Start starts the task manager and its components
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
}

// Stop stops the task manager and its components
func (tm *TaskManager) Stop() {
	tm.workerPool.Stop()
}

// SubmitTask submits a task for execution
func (tm *TaskManager) SubmitTask(clientID string, task *Task) error {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		return fmt.Errorf("task type %v is not registered", task.Type)
	}

	ctx, err := tm.clientManager.GetClientContext(clientID)
	if err != nil {
		return fmt.Errorf("failed to get client context: %v", err)
	}

	// 原子检查和占用配额
	if err := ctx.ResourceQuota.TryAcquire(); err != nil {
		return err
	}

	task.ClientID = clientID

	// 提交到工作池，失败时回滚名额
	if err := tm.workerPool.Submit(task); err != nil {
		ctx.ResourceQuota.Release()
		return err
	}

	return nil
}

// RemoveClient 客户端断开时清理其上下文
func (tm *TaskManager) RemoveClient(clientID string) {
	tm.clientManager.RemoveClient(clientID)
}
