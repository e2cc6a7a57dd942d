package persist

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"papercut-studio-go/src/core/utils"
	"papercut-studio-go/src/models"
)

// UsageRecorder Oracle用量统计，按天、按提供者聚合入库。
// 统计失败只记日志，绝不反过来打断流水线。
type UsageRecorder struct {
	db       *gorm.DB
	provider string
	logger   *utils.Logger
	now      func() time.Time // 测试注入
}

// NewUsageRecorder 创建用量统计并自动迁移表结构
func NewUsageRecorder(db *gorm.DB, provider string, logger *utils.Logger) (*UsageRecorder, error) {
	if err := db.AutoMigrate(&models.OracleUsage{}); err != nil {
		return nil, fmt.Errorf("迁移用量统计表失败: %v", err)
	}
	return &UsageRecorder{db: db, provider: provider, logger: logger, now: time.Now}, nil
}

// RecordDescribe 一次成功的图层描述调用
func (r *UsageRecorder) RecordDescribe() {
	r.bump(map[string]int{"describe_ok": 1})
}

// RecordIsolation 一次最终合规的抠取，attempts为实际尝试次数
func (r *UsageRecorder) RecordIsolation(attempts int) {
	if attempts < 1 {
		attempts = 1
	}
	r.bump(map[string]int{"isolate_ok": 1, "isolate_retry": attempts - 1})
}

// RecordQuotaError 一次配额类错误
func (r *UsageRecorder) RecordQuotaError() {
	r.bump(map[string]int{"quota_errors": 1})
}

// Usage 读取某天的统计，没有记录时返回零值行
func (r *UsageRecorder) Usage(day string) (*models.OracleUsage, error) {
	var row models.OracleUsage
	err := r.db.Where("day = ? AND provider = ?", day, r.provider).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.OracleUsage{Day: day, Provider: r.provider}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用量统计失败: %v", err)
	}
	return &row, nil
}

func (r *UsageRecorder) bump(deltas map[string]int) {
	day := r.now().Format("2006-01-02")

	var row models.OracleUsage
	err := r.db.Where("day = ? AND provider = ?", day, r.provider).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.OracleUsage{Day: day, Provider: r.provider}
		if err := r.db.Create(&row).Error; err != nil {
			r.warn(err)
			return
		}
	} else if err != nil {
		r.warn(err)
		return
	}

	updates := make(map[string]interface{}, len(deltas))
	for column, delta := range deltas {
		updates[column] = gorm.Expr(column+" + ?", delta)
	}
	if err := r.db.Model(&row).Updates(updates).Error; err != nil {
		r.warn(err)
	}
}

func (r *UsageRecorder) warn(err error) {
	if r.logger != nil {
		r.logger.FormatWarn("写入用量统计失败: %v", err)
	}
}
