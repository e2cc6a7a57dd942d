package pipeline

import (
	"fmt"

	"papercut-studio-go/src/core/image"
)

// IsolationExhaustedError 抠取重试次数用尽仍未得到合规结果。
// 携带最后一次校验结果与错误供诊断；对当前尝试周期是终态，
// 需要操作员重抠（可改指令）或放弃该图层，绝不静默当作合规。
type IsolationExhaustedError struct {
	Attempts       int
	LastValidation *image.FillValidation
	LastErr        error
}

func (e *IsolationExhaustedError) Error() string {
	if e.LastValidation != nil {
		return fmt.Sprintf("抠取%d次后仍不合规，最后原因: %s", e.Attempts, e.LastValidation.Reason)
	}
	if e.LastErr != nil {
		return fmt.Sprintf("抠取%d次后仍未成功，最后错误: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("抠取%d次后仍未成功", e.Attempts)
}

func (e *IsolationExhaustedError) Unwrap() error {
	return e.LastErr
}
