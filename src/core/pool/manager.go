package pool

import (
	"fmt"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

// PoolManager 资源池管理器：持有密钥池与Oracle实例池
type PoolManager struct {
	credentials *CredentialPool
	oraclePool  *ResourcePool
	logger      *utils.Logger
}

// NewPoolManager 创建资源池管理器
func NewPoolManager(config *configs.Config, logger *utils.Logger) (*PoolManager, error) {
	oracleName, ok := config.SelectedModule["Oracle"]
	if !ok || oracleName == "" {
		return nil, fmt.Errorf("未选择Oracle模块，请检查selected_module配置")
	}

	oracleConfig, ok := config.Oracle[oracleName]
	if !ok {
		return nil, fmt.Errorf("找不到Oracle配置: %s", oracleName)
	}

	credentials, err := NewCredentialPool(oracleConfig.APIKeys, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥池失败: %v", err)
	}

	factory := NewOracleFactory(oracleName, config, credentials, logger)
	if factory == nil {
		return nil, fmt.Errorf("创建Oracle工厂失败: 找不到配置 %s", oracleName)
	}

	poolConfig := PoolConfig{
		MinSize:       1,
		MaxSize:       8,
		RefillSize:    1,
		CheckInterval: 30 * time.Second,
	}

	oraclePool, err := NewResourcePool(factory, poolConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化Oracle资源池失败: %v", err)
	}

	_, cnt := oraclePool.GetStats()
	logger.FormatInfo("Oracle资源池初始化成功，类型: %s, 数量：%d, 密钥数：%d",
		oracleConfig.Type, cnt, len(oracleConfig.APIKeys))

	return &PoolManager{
		credentials: credentials,
		oraclePool:  oraclePool,
		logger:      logger,
	}, nil
}

// GetOracle 取一个Oracle提供者实例
func (pm *PoolManager) GetOracle() (oracle.Provider, error) {
	resource, err := pm.oraclePool.Get()
	if err != nil {
		return nil, fmt.Errorf("获取Oracle提供者失败: %v", err)
	}
	return resource.(oracle.Provider), nil
}

// PutOracle 归还Oracle提供者实例
func (pm *PoolManager) PutOracle(provider oracle.Provider) {
	pm.oraclePool.Put(provider)
}

// Credentials 暴露密钥池（基准评测与状态接口使用）
func (pm *PoolManager) Credentials() *CredentialPool {
	return pm.credentials
}

// Close 关闭所有资源池
func (pm *PoolManager) Close() {
	if pm.oraclePool != nil {
		pm.oraclePool.Close()
	}
}

// GetStats 获取池统计信息
func (pm *PoolManager) GetStats() map[string]map[string]int {
	stats := make(map[string]map[string]int)

	if pm.oraclePool != nil {
		available, total := pm.oraclePool.GetStats()
		stats["oracle"] = map[string]int{"available": available, "total": total}
	}
	if pm.credentials != nil {
		available, total := pm.credentials.Stats()
		stats["credentials"] = map[string]int{"available": available, "total": total}
	}

	return stats
}
