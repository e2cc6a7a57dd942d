package pool

import (
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T, keys ...string) *CredentialPool {
	t.Helper()
	p, err := NewCredentialPool(keys, nil)
	if err != nil {
		t.Fatalf("NewCredentialPool失败: %v", err)
	}
	return p
}

func TestCredentialPool(t *testing.T) {
	t.Run("空密钥池拒绝创建", func(t *testing.T) {
		if _, err := NewCredentialPool(nil, nil); err == nil {
			t.Fatal("期望报错")
		}
	})

	t.Run("配额耗尽后轮换到下一密钥", func(t *testing.T) {
		p := newTestPool(t, "key-a", "key-b", "key-c")

		key, err := p.Current()
		if err != nil || key != "key-a" {
			t.Fatalf("Current = %q, %v; want key-a", key, err)
		}

		next, err := p.ReportExhausted("key-a", time.Minute)
		if err != nil || next != "key-b" {
			t.Fatalf("轮换结果 = %q, %v; want key-b", next, err)
		}

		// 之后的Current稳定落在key-b
		if key, _ := p.Current(); key != "key-b" {
			t.Errorf("Current = %q, want key-b", key)
		}
	})

	t.Run("全部耗尽时报AllExhaustedError并带最短等待", func(t *testing.T) {
		p := newTestPool(t, "key-a", "key-b")

		p.ReportExhausted("key-a", 10*time.Minute)
		_, err := p.ReportExhausted("key-b", 2*time.Minute)

		var exhausted *AllExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("期望AllExhaustedError, 实际 %v", err)
		}
		if exhausted.RetryAfter > 2*time.Minute || exhausted.RetryAfter <= 0 {
			t.Errorf("RetryAfter = %s, 应为最早恢复的密钥等待时间（约2分钟）", exhausted.RetryAfter)
		}
	})

	t.Run("冷却到期后密钥恢复可用", func(t *testing.T) {
		p := newTestPool(t, "key-a")
		fake := time.Now()
		p.now = func() time.Time { return fake }

		p.ReportExhausted("key-a", time.Minute)
		if _, err := p.Current(); err == nil {
			t.Fatal("冷却期内不应返回密钥")
		}

		fake = fake.Add(61 * time.Second)
		key, err := p.Current()
		if err != nil || key != "key-a" {
			t.Fatalf("冷却到期后 Current = %q, %v; want key-a", key, err)
		}
	})

	t.Run("统计可用与总数", func(t *testing.T) {
		p := newTestPool(t, "key-a", "key-b", "key-c")
		p.ReportExhausted("key-b", time.Minute)

		available, total := p.Stats()
		if available != 2 || total != 3 {
			t.Errorf("Stats = %d/%d, want 2/3", available, total)
		}
	})
}
