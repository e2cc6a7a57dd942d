package configs

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip"`
		Port  int    `yaml:"port"`
		Token string `yaml:"token"` // JWT签名密钥
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Enabled   bool   `yaml:"enabled"`
		Port      int    `yaml:"port"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"web"`

	SelectedModule map[string]string `yaml:"selected_module"`

	Oracle map[string]OracleConfig `yaml:"Oracle"`

	Pipeline PipelineConfig `yaml:"pipeline"`
}

// SamplingConfig 采样参数配置（压低随机性，尽量让模型输出可复现）
type SamplingConfig struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	TopK        int     `yaml:"top_k"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度
	MaxHeight      int      `yaml:"max_height"`       // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用深度安全扫描
}

// OracleConfig 生成式视觉模型（Oracle）配置结构
type OracleConfig struct {
	Type      string         `yaml:"type"`       // API类型：openai / gemini
	ModelName string         `yaml:"model_name"` // 模型名称，需支持视觉输入
	BaseURL   string         `yaml:"url"`        // API地址
	APIKeys   []string       `yaml:"api_keys"`   // 密钥池，配额耗尽时轮换
	Analysis  SamplingConfig `yaml:"analysis"`   // 分析/描述调用的采样参数
	Isolation SamplingConfig `yaml:"isolation"`  // 图层抠取调用的采样参数
	Security  SecurityConfig `yaml:"security"`   // 图片安全配置
}

// PipelineConfig 图层流水线配置结构
type PipelineConfig struct {
	MaxIsolationAttempts int `yaml:"max_isolation_attempts"` // 抠图重试上限
	ComplianceRetryMS    int `yaml:"compliance_retry_ms"`    // 合规失败后的重试间隔（毫秒）
	ErrorRetryMS         int `yaml:"error_retry_ms"`         // Oracle出错后的重试间隔（毫秒）
	MaxWorkers           int `yaml:"max_workers"`            // 异步任务工作协程数
	MaxTasksPerClient    int `yaml:"max_tasks_per_client"`   // 单客户端任务配额
}

// ComplianceRetryDelay 合规失败重试间隔
func (p *PipelineConfig) ComplianceRetryDelay() time.Duration {
	if p.ComplianceRetryMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.ComplianceRetryMS) * time.Millisecond
}

// ErrorRetryDelay Oracle错误重试间隔（错误多为配额类瞬时问题，等得更久）
func (p *PipelineConfig) ErrorRetryDelay() time.Duration {
	if p.ErrorRetryMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(p.ErrorRetryMS) * time.Millisecond
}

// AttemptLimit 抠图重试上限，默认8次
func (p *PipelineConfig) AttemptLimit() int {
	if p.MaxIsolationAttempts <= 0 {
		return 8
	}
	return p.MaxIsolationAttempts
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	return config, path, nil
}
