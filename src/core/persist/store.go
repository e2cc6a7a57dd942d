package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"papercut-studio-go/src/core/pipeline"
	"papercut-studio-go/src/core/utils"
	"papercut-studio-go/src/models"
)

// DefaultProjectKey 单项目部署的固定项目键
const DefaultProjectKey = "default"

// ProjectStore 基于数据库的项目存档，整个项目序列化为一条JSON快照。
// 图片负载直接随快照入库：存档必须无损往返，定稿边界一次写入一次提交。
type ProjectStore struct {
	db     *gorm.DB
	key    string
	logger *utils.Logger
}

// NewProjectStore 创建项目存档并自动迁移表结构
func NewProjectStore(db *gorm.DB, key string, logger *utils.Logger) (*ProjectStore, error) {
	if key == "" {
		key = DefaultProjectKey
	}
	if err := db.AutoMigrate(&models.ProjectRecord{}); err != nil {
		return nil, fmt.Errorf("迁移项目存档表失败: %v", err)
	}
	return &ProjectStore{db: db, key: key, logger: logger}, nil
}

// Save 保存完整项目快照，同键覆盖
func (s *ProjectStore) Save(project *pipeline.Project) error {
	snapshot, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("序列化项目失败: %v", err)
	}

	var record models.ProjectRecord
	err = s.db.Where("key = ?", s.key).First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.ProjectRecord{Key: s.key, Snapshot: snapshot}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("写入项目存档失败: %v", err)
		}
	case err != nil:
		return fmt.Errorf("查询项目存档失败: %v", err)
	default:
		record.Snapshot = snapshot
		if err := s.db.Save(&record).Error; err != nil {
			return fmt.Errorf("更新项目存档失败: %v", err)
		}
	}

	if s.logger != nil {
		s.logger.FormatInfo("项目存档已提交，快照%d字节", len(snapshot))
	}
	return nil
}

// Load 读取项目快照，无存档时返回 (nil, nil)
func (s *ProjectStore) Load() (*pipeline.Project, error) {
	var record models.ProjectRecord
	err := s.db.Where("key = ?", s.key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询项目存档失败: %v", err)
	}

	project := &pipeline.Project{}
	if err := json.Unmarshal(record.Snapshot, project); err != nil {
		return nil, fmt.Errorf("解析项目快照失败: %v", err)
	}
	return project, nil
}

// Clear 删除项目存档
func (s *ProjectStore) Clear() error {
	return s.db.Where("key = ?", s.key).Delete(&models.ProjectRecord{}).Error
}
