package pool

import (
	"fmt"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

/*
* Oracle工厂：按配置创建已初始化的Oracle提供者实例。
* 同一工厂创建的实例共享密钥池，配额轮换对所有实例生效。
 */

// OracleFactory Oracle提供者工厂，实现ResourceFactory接口
type OracleFactory struct {
	oracleType  string
	config      *configs.OracleConfig
	credentials *CredentialPool
	logger      *utils.Logger
}

// NewOracleFactory 创建Oracle工厂；找不到配置时返回nil
func NewOracleFactory(name string, config *configs.Config, credentials *CredentialPool, logger *utils.Logger) *OracleFactory {
	oracleConfig, ok := config.Oracle[name]
	if !ok {
		return nil
	}
	return &OracleFactory{
		oracleType:  oracleConfig.Type,
		config:      &oracleConfig,
		credentials: credentials,
		logger:      logger,
	}
}

// Create 创建并初始化一个Oracle提供者实例
func (f *OracleFactory) Create() (interface{}, error) {
	provider, err := oracle.Create(f.oracleType, &oracle.Config{
		Type:        f.config.Type,
		ModelName:   f.config.ModelName,
		BaseURL:     f.config.BaseURL,
		Credentials: f.credentials,
		Analysis:    f.config.Analysis,
		Isolation:   f.config.Isolation,
		Security:    f.config.Security,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("创建Oracle提供者失败: %v", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化Oracle提供者失败: %v", err)
	}

	return provider, nil
}

// Destroy 销毁一个Oracle提供者实例
func (f *OracleFactory) Destroy(resource interface{}) error {
	if provider, ok := resource.(oracle.Provider); ok {
		return provider.Cleanup()
	}
	return nil
}
