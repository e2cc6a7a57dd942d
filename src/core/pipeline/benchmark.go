package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

// 抠取策略对比：同一张图、同一条指令，并发跑多个Oracle配置，
// 比较各自的合规率与尝试次数，用于挑模型/调采样参数。

// Strategy 一个待对比的抠取策略
type Strategy struct {
	Name     string
	Provider oracle.Provider
}

// StrategyResult 单个策略的跑分结果
type StrategyResult struct {
	Name         string        `json:"name"`
	Compliant    bool          `json:"compliant"`
	AttemptCount int           `json:"attempt_count"`
	Elapsed      time.Duration `json:"elapsed"`
	Err          string        `json:"error,omitempty"`
}

// RunBenchmark 并发执行全部策略并收集结果。
// 单个策略失败（含重试耗尽）记入其结果，不中断其他策略。
func RunBenchmark(
	ctx context.Context,
	strategies []Strategy,
	img image.ImageData,
	description string,
	config *configs.PipelineConfig,
	logger *utils.Logger,
) ([]StrategyResult, error) {
	results := make([]StrategyResult, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, strategy := range strategies {
		i, strategy := i, strategy
		g.Go(func() error {
			ctrl := NewIsolationController(strategy.Provider, config, logger)
			start := time.Now()

			outcome, err := ctrl.IsolateWithValidation(gctx, img, description, 1, nil)
			result := StrategyResult{
				Name:    strategy.Name,
				Elapsed: time.Since(start),
			}
			if err != nil {
				result.Err = err.Error()
				// 上下文取消要向上传播，终止整组对比
				if gctx.Err() != nil {
					results[i] = result
					return gctx.Err()
				}
			} else {
				result.Compliant = true
				result.AttemptCount = outcome.AttemptCount
			}
			results[i] = result

			logger.FormatInfo("策略 %s 完成: 合规=%v 尝试=%d 耗时=%s",
				result.Name, result.Compliant, result.AttemptCount, result.Elapsed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
