package pool

import (
	"fmt"
	"sync"
	"time"

	"papercut-studio-go/src/core/utils"
)

// CredentialPool API密钥池。配额耗尽的密钥进入冷却，轮换到下一个可用密钥；
// 全部冷却时报错并带上最早可恢复的等待时间。
// 基准评测会从多个协程并发取密钥，所以全程持锁。
type CredentialPool struct {
	keys     []string
	cooldown map[string]time.Time // 密钥 -> 冷却截止时间
	current  int
	logger   *utils.Logger
	mu       sync.Mutex
	now      func() time.Time // 测试注入
}

// AllExhaustedError 所有密钥都在冷却中
type AllExhaustedError struct {
	RetryAfter time.Duration // 最早恢复的等待时间
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("所有API密钥均已耗尽，建议等待 %s 后重试", e.RetryAfter.Round(time.Second))
}

// NewCredentialPool 创建密钥池
func NewCredentialPool(keys []string, logger *utils.Logger) (*CredentialPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("密钥池为空：至少需要一个API密钥")
	}
	return &CredentialPool{
		keys:     keys,
		cooldown: make(map[string]time.Time),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Current 返回当前可用密钥
func (p *CredentialPool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pickLocked()
}

// ReportExhausted 上报密钥配额耗尽并轮换。
// 返回下一个可用密钥；全部冷却时返回AllExhaustedError。
func (p *CredentialPool) ReportExhausted(key string, retryAfter time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	p.cooldown[key] = p.now().Add(retryAfter)

	if p.logger != nil {
		p.logger.FormatWarn("密钥（尾号%s）进入冷却 %s", tail(key), retryAfter.Round(time.Second))
	}

	return p.pickLocked()
}

// pickLocked 从current起顺时针找第一个不在冷却中的密钥
func (p *CredentialPool) pickLocked() (string, error) {
	now := p.now()

	for i := 0; i < len(p.keys); i++ {
		idx := (p.current + i) % len(p.keys)
		key := p.keys[idx]
		if until, cooling := p.cooldown[key]; cooling && now.Before(until) {
			continue
		}
		p.current = idx
		return key, nil
	}

	// 全部冷却，算出最早恢复时间
	soonest := time.Duration(0)
	for _, key := range p.keys {
		wait := p.cooldown[key].Sub(now)
		if soonest == 0 {
			soonest = wait
		} else {
			soonest = utils.MinDuration(soonest, wait)
		}
	}
	return "", &AllExhaustedError{RetryAfter: soonest}
}

// Stats 返回可用/总密钥数
func (p *CredentialPool) Stats() (available, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, key := range p.keys {
		if until, cooling := p.cooldown[key]; !cooling || !now.Before(until) {
			available++
		}
	}
	return available, len(p.keys)
}

func tail(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
