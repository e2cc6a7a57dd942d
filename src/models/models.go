package models

import (
	"time"

	"gorm.io/datatypes"
)

// 项目存档（每个项目键只保存最新一条快照）
type ProjectRecord struct {
	ID        uint           `gorm:"primaryKey"`
	Key       string         `gorm:"uniqueIndex;not null"` // 项目键，单项目部署固定为default
	Snapshot  datatypes.JSON // 项目完整快照，含全部图片负载
	UpdatedAt time.Time
}

// Oracle调用统计（按天聚合，用于观察配额消耗）
type OracleUsage struct {
	ID           uint   `gorm:"primaryKey"`
	Day          string `gorm:"index;not null"` // YYYY-MM-DD
	Provider     string `gorm:"index"`
	DescribeOK   int
	IsolateOK    int
	IsolateRetry int
	QuotaErrors  int
}
