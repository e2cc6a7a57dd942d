package persist

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestUsageRecorder(t *testing.T) *UsageRecorder {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "usage.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	recorder, err := NewUsageRecorder(db, "GeminiOracle", nil)
	if err != nil {
		t.Fatalf("创建用量统计失败: %v", err)
	}
	return recorder
}

func TestUsageRecorder(t *testing.T) {
	t.Run("按天累加各类计数", func(t *testing.T) {
		recorder := newTestUsageRecorder(t)
		recorder.now = func() time.Time {
			return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
		}

		recorder.RecordDescribe()
		recorder.RecordDescribe()
		recorder.RecordIsolation(3) // 1次合规 + 2次重试
		recorder.RecordIsolation(1) // 1次合规，无重试
		recorder.RecordQuotaError()

		row, err := recorder.Usage("2026-08-24")
		if err != nil {
			t.Fatalf("读取用量失败: %v", err)
		}
		if row.DescribeOK != 2 {
			t.Errorf("DescribeOK = %d, want 2", row.DescribeOK)
		}
		if row.IsolateOK != 2 || row.IsolateRetry != 2 {
			t.Errorf("IsolateOK/IsolateRetry = %d/%d, want 2/2", row.IsolateOK, row.IsolateRetry)
		}
		if row.QuotaErrors != 1 {
			t.Errorf("QuotaErrors = %d, want 1", row.QuotaErrors)
		}
	})

	t.Run("跨天分行统计", func(t *testing.T) {
		recorder := newTestUsageRecorder(t)
		day := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
		recorder.now = func() time.Time { return day }

		recorder.RecordDescribe()
		day = day.Add(2 * time.Minute) // 跨到次日
		recorder.RecordDescribe()

		first, err := recorder.Usage("2026-08-24")
		if err != nil {
			t.Fatalf("读取用量失败: %v", err)
		}
		second, err := recorder.Usage("2026-08-25")
		if err != nil {
			t.Fatalf("读取用量失败: %v", err)
		}
		if first.DescribeOK != 1 || second.DescribeOK != 1 {
			t.Errorf("两天各应1次, 实际 %d/%d", first.DescribeOK, second.DescribeOK)
		}
	})

	t.Run("无记录的日期返回零值行", func(t *testing.T) {
		recorder := newTestUsageRecorder(t)
		row, err := recorder.Usage("2026-01-01")
		if err != nil {
			t.Fatalf("读取用量失败: %v", err)
		}
		if row.DescribeOK != 0 || row.IsolateOK != 0 || row.QuotaErrors != 0 {
			t.Errorf("期望零值行, 实际 %+v", row)
		}
	})
}
