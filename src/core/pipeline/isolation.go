package pipeline

import (
	"context"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

// 抠取校验控制器：Oracle是随机的，这里的有界重试循环是
// 系统对“已发布图层满足单色填充/透明约束”的唯一正确性保证。

// AttemptReport 单次抠取尝试的报告，经onAttempt回调上报
type AttemptReport struct {
	Attempt    int                   `json:"attempt"`
	Validation *image.FillValidation `json:"validation,omitempty"` // 拿到了图但不合规
	Err        string                `json:"error,omitempty"`      // Oracle层面的失败
	ErrKind    string                `json:"error_kind,omitempty"` // 失败分类：quota/transient/invalid
}

// AttemptFunc 尝试进度回调
type AttemptFunc func(report AttemptReport)

// IsolationOutcome 合规的抠取结果
type IsolationOutcome struct {
	Image        image.ImageData
	AttemptCount int
	Validation   image.FillValidation
}

// IsolationController 抠取校验与重试控制器
type IsolationController struct {
	oracle oracle.Provider
	config *configs.PipelineConfig
	logger *utils.Logger

	// sleep 可注入，测试不真等
	sleep func(ctx context.Context, d time.Duration) error
}

// NewIsolationController 创建控制器
func NewIsolationController(provider oracle.Provider, config *configs.PipelineConfig, logger *utils.Logger) *IsolationController {
	return &IsolationController{
		oracle: provider,
		config: config,
		logger: logger,
		sleep:  sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsolateWithValidation 循环请求抠取直到合规或次数用尽。
//
// 每轮：调用Oracle抠取；成功则解码并做单色填充校验，合规立即返回。
// 不合规的结果先上报再重试（短间隔）；Oracle错误同样计入次数，
// 但错误多为配额类瞬时问题，等更长的间隔。配额错误由提供者轮换密钥，
// 这里只负责等待与计数。次数用尽报IsolationExhaustedError，
// 带上最后一次校验/错误。
func (c *IsolationController) IsolateWithValidation(
	ctx context.Context,
	img image.ImageData,
	description string,
	layerIndex int,
	onAttempt AttemptFunc,
) (*IsolationOutcome, error) {
	maxAttempts := c.config.AttemptLimit()

	var lastValidation *image.FillValidation
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.oracle.Isolate(ctx, oracle.IsolateRequest{
			Image:       img,
			Description: description,
			LayerIndex:  layerIndex,
		})

		if err != nil {
			lastErr = err
			c.logger.FormatWarn("第%d层抠取第%d次调用失败（%s）: %v",
				layerIndex, attempt, oracle.KindOf(err), err)
			c.report(onAttempt, AttemptReport{
				Attempt: attempt,
				Err:     err.Error(),
				ErrKind: string(oracle.KindOf(err)),
			})

			if attempt < maxAttempts {
				if sleepErr := c.sleep(ctx, c.config.ErrorRetryDelay()); sleepErr != nil {
					return nil, sleepErr
				}
			}
			continue
		}

		buf, err := image.Decode(*result)
		if err != nil {
			// Oracle给了无法解码的字节，按一次不合规尝试处理
			validation := &image.FillValidation{
				Compliant: false,
				Reason:    "抠取结果无法解码: " + err.Error(),
			}
			lastValidation = validation
			c.report(onAttempt, AttemptReport{Attempt: attempt, Validation: validation})

			if attempt < maxAttempts {
				if sleepErr := c.sleep(ctx, c.config.ComplianceRetryDelay()); sleepErr != nil {
					return nil, sleepErr
				}
			}
			continue
		}

		validation := image.ValidateSingleFill(buf)
		if validation.Compliant {
			c.logger.FormatInfo("第%d层抠取第%d次合规，颜色 %s",
				layerIndex, attempt, image.ColorName(*validation.Dominant))
			return &IsolationOutcome{
				Image:        *result,
				AttemptCount: attempt,
				Validation:   validation,
			}, nil
		}

		// 成功拿图但不合规：记录原因后继续，不静默吞掉
		lastValidation = &validation
		c.logger.FormatWarn("第%d层抠取第%d次不合规: %s", layerIndex, attempt, validation.Reason)
		c.report(onAttempt, AttemptReport{Attempt: attempt, Validation: &validation})

		if attempt < maxAttempts {
			if sleepErr := c.sleep(ctx, c.config.ComplianceRetryDelay()); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, &IsolationExhaustedError{
		Attempts:       maxAttempts,
		LastValidation: lastValidation,
		LastErr:        lastErr,
	}
}

func (c *IsolationController) report(onAttempt AttemptFunc, report AttemptReport) {
	if onAttempt != nil {
		onAttempt(report)
	}
}
