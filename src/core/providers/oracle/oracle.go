package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/utils"
)

// Oracle是外部生成式视觉模型，视为随机黑盒：
// 输入图片+文本，输出自然语言描述或抠取后的图层图片。
// 合规性不在这里保证——返回了不满足单色填充的图片也算调用成功，
// 由流水线的校验控制器另行判定。

// ErrorKind Oracle错误分类
type ErrorKind string

const (
	ErrKindQuota     ErrorKind = "quota"     // 配额/限流，可轮换密钥后重试
	ErrKindTransient ErrorKind = "transient" // 瞬时错误，可稍后重试
	ErrKindInvalid   ErrorKind = "invalid"   // 配置/认证问题，重试无意义
)

// Error Oracle调用错误
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // 配额错误时建议的等待时间
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 提取错误分类，非Oracle错误按瞬时处理
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ErrKindTransient
}

// LayerDescription 图层描述，显式类型化的记录，不用动态字段名
type LayerDescription struct {
	LayerIndex  int    `json:"layer_index"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning"`
}

// DescribeRequest 图层分析请求
type DescribeRequest struct {
	Image                image.ImageData
	LayerIndex           int
	PreviousDescriptions []string // 已定稿图层的描述，供模型避开已识别内容
}

// IsolateRequest 图层抠取请求
type IsolateRequest struct {
	Image       image.ImageData
	Description string // 抠取后外观的描述，而非在原图语境下的描述
	LayerIndex  int
}

// CredentialSource 密钥来源：配额耗尽时上报并轮换。
// 显式注入，不走全局单例。
type CredentialSource interface {
	Current() (string, error)
	ReportExhausted(key string, retryAfter time.Duration) (string, error)
}

// StaticCredential 单密钥来源，测试与单密钥部署用
type StaticCredential string

func (s StaticCredential) Current() (string, error) {
	return string(s), nil
}

func (s StaticCredential) ReportExhausted(key string, retryAfter time.Duration) (string, error) {
	return "", fmt.Errorf("唯一密钥已耗尽，建议等待 %s", retryAfter)
}

// Config Oracle提供者配置
type Config struct {
	Type        string
	ModelName   string
	BaseURL     string
	Credentials CredentialSource
	Analysis    configs.SamplingConfig // 分析/描述调用的采样参数
	Isolation   configs.SamplingConfig // 抠取调用的采样参数
	Security    configs.SecurityConfig
}

// Provider Oracle提供者接口
type Provider interface {
	Initialize() error
	Cleanup() error

	// Describe 请求第layerIndex层的自然语言描述与推理
	Describe(ctx context.Context, req DescribeRequest) (*LayerDescription, error)

	// IsolationPrompt 由图层描述生成抠取指令（描述抠取后的外观）
	IsolationPrompt(ctx context.Context, desc LayerDescription) (string, error)

	// Isolate 请求抠取后的图层图片：透明背景，目标内容不透明
	Isolate(ctx context.Context, req IsolateRequest) (*image.ImageData, error)
}

// Factory 提供者工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建指定类型的提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("不支持的Oracle类型: %s", name)
	}
	return factory(config, logger)
}
