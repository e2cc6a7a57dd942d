package task

import (
	"papercut-studio-go/src/core/utils"
)

// CallBack 任务完成通知。回调在独立协程执行，
// 回调自身panic只记日志，不影响任务与工作者。
type CallBack struct {
	notify func(result interface{})
	logger *utils.Logger
}

func NewCallBack(notify func(result interface{}), logger *utils.Logger) *CallBack {
	return &CallBack{
		notify: notify,
		logger: logger,
	}
}

func (cb *CallBack) OnComplete(result interface{}) {
	cb.run(result)
}

func (cb *CallBack) OnError(err error) {
	cb.run(map[string]interface{}{
		"error":  err.Error(),
		"status": "failed",
	})
}

func (cb *CallBack) run(result interface{}) {
	if cb.notify == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil && cb.logger != nil {
				cb.logger.FormatError("任务回调panic: %v", r)
			}
		}()
		cb.notify(result)
	}()
}
