package task

import (
	"fmt"
	"sync"
)

// ClientManager manages client contexts and resources
type ClientManager struct {
	clients           map[string]*ClientContext
	maxTasksPerClient int
	mu                sync.RWMutex
}

// ClientContext holds client-specific settings and state
type ClientContext struct {
	ID            string
	ResourceQuota *ResourceQuota
}

// NewClientManager creates a new client manager
func NewClientManager(maxTasksPerClient int) *ClientManager {
	if maxTasksPerClient <= 0 {
		maxTasksPerClient = 4
	}
	return &ClientManager{
		clients:           make(map[string]*ClientContext),
		maxTasksPerClient: maxTasksPerClient,
	}
}

// GetClientContext gets or creates a client context
func (cm *ClientManager) GetClientContext(clientID string) (*ClientContext, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if ctx, exists := cm.clients[clientID]; exists {
		return ctx, nil
	}

	ctx := &ClientContext{
		ID:            clientID,
		ResourceQuota: NewResourceQuota(cm.maxTasksPerClient),
	}
	cm.clients[clientID] = ctx
	return ctx, nil
}

// RemoveClient removes a client context
func (cm *ClientManager) RemoveClient(clientID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, clientID)
}

// ResourceQuota 单客户端的并发任务配额。
// 流水线是人审节奏，单客户端同时在途的任务数应当很小，
// 超额的提交直接拒绝而不是排队。
type ResourceQuota struct {
	MaxConcurrentTasks int
	RunningTasks       int
	mu                 sync.Mutex
}

// NewResourceQuota creates a new resource quota instance
func NewResourceQuota(maxConcurrent int) *ResourceQuota {
	return &ResourceQuota{MaxConcurrentTasks: maxConcurrent}
}

// TryAcquire 原子检查并占用一个并发名额
func (rq *ResourceQuota) TryAcquire() error {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.RunningTasks >= rq.MaxConcurrentTasks {
		return fmt.Errorf("客户端并发任务已达上限 %d", rq.MaxConcurrentTasks)
	}
	rq.RunningTasks++
	return nil
}

// Release 释放一个并发名额
func (rq *ResourceQuota) Release() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.RunningTasks > 0 {
		rq.RunningTasks--
	}
}
