package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"

	goopenai "github.com/sashabaranov/go-openai"
)

// Provider OpenAI兼容端点的Oracle提供者。
// 文本调用走vision chat completion；抠取调用要求端点在回复里内联
// data URL图片（OpenAI兼容的多模态输出端点均采用此约定）。
type Provider struct {
	config  *oracle.Config
	logger  *utils.Logger
	clients map[string]*goopenai.Client // 按密钥缓存客户端
	mu      sync.Mutex
}

func init() {
	oracle.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI Oracle提供者
func NewProvider(config *oracle.Config, logger *utils.Logger) (oracle.Provider, error) {
	return &Provider{
		config:  config,
		logger:  logger,
		clients: make(map[string]*goopenai.Client),
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	if p.config.Credentials == nil {
		return fmt.Errorf("missing OpenAI credential source")
	}
	if _, err := p.config.Credentials.Current(); err != nil {
		return fmt.Errorf("没有可用的API密钥: %v", err)
	}

	p.logger.Debug("OpenAI Oracle初始化成功 %v", map[string]interface{}{
		"model_name": p.config.ModelName,
		"base_url":   p.config.BaseURL,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

func (p *Provider) client(key string) *goopenai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}
	clientConfig := goopenai.DefaultConfig(key)
	if p.config.BaseURL != "" {
		clientConfig.BaseURL = p.config.BaseURL
	}
	c := goopenai.NewClientWithConfig(clientConfig)
	p.clients[key] = c
	return c
}

// Describe 请求图层描述
func (p *Provider) Describe(ctx context.Context, req oracle.DescribeRequest) (*oracle.LayerDescription, error) {
	prompt := oracle.BuildDescribePrompt(req)

	content, err := p.visionCall(ctx, prompt, &req.Image, p.config.Analysis)
	if err != nil {
		return nil, err
	}

	desc, err := oracle.ParseDescriptionJSON(content, req.LayerIndex)
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "描述回复格式异常", Err: err}
	}
	return desc, nil
}

// IsolationPrompt 生成抠取指令
func (p *Provider) IsolationPrompt(ctx context.Context, desc oracle.LayerDescription) (string, error) {
	prompt := oracle.BuildIsolationPromptRequest(desc)

	content, err := p.visionCall(ctx, prompt, nil, p.config.Analysis)
	if err != nil {
		return "", err
	}

	instruction := strings.TrimSpace(content)
	if instruction == "" {
		return "", &oracle.Error{Kind: oracle.ErrKindTransient, Message: "抠取指令为空"}
	}
	return instruction, nil
}

// Isolate 请求抠取后的图层图片
func (p *Provider) Isolate(ctx context.Context, req oracle.IsolateRequest) (*image.ImageData, error) {
	prompt := oracle.BuildIsolatePrompt(req)

	content, err := p.visionCall(ctx, prompt, &req.Image, p.config.Isolation)
	if err != nil {
		return nil, err
	}

	format, data, ok := oracle.ExtractDataURLImage(content)
	if !ok {
		return nil, &oracle.Error{
			Kind:    oracle.ErrKindTransient,
			Message: "回复中没有内联图片数据",
		}
	}

	return &image.ImageData{Data: data, Format: format}, nil
}

// visionCall 发起一次chat completion，img为nil时是纯文本调用
func (p *Provider) visionCall(ctx context.Context, prompt string, img *image.ImageData, sampling configs.SamplingConfig) (string, error) {
	key, err := p.config.Credentials.Current()
	if err != nil {
		return "", &oracle.Error{Kind: oracle.ErrKindQuota, Message: "没有可用的API密钥", Err: err}
	}

	var message goopenai.ChatCompletionMessage
	if img != nil {
		message = goopenai.ChatCompletionMessage{
			Role: goopenai.ChatMessageRoleUser,
			MultiContent: []goopenai.ChatMessagePart{
				{
					Type: goopenai.ChatMessagePartTypeText,
					Text: prompt,
				},
				{
					Type: goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", img.MIMEType(), img.Data),
					},
				},
			},
		}
	} else {
		message = goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: prompt,
		}
	}

	request := goopenai.ChatCompletionRequest{
		Model:       p.config.ModelName,
		Messages:    []goopenai.ChatCompletionMessage{message},
		Temperature: float32(sampling.Temperature),
		TopP:        float32(sampling.TopP),
	}
	if sampling.MaxTokens > 0 {
		request.MaxTokens = sampling.MaxTokens
	}

	resp, err := p.client(key).CreateChatCompletion(ctx, request)
	if err != nil {
		return "", p.translateError(err, key)
	}

	if len(resp.Choices) == 0 {
		return "", &oracle.Error{Kind: oracle.ErrKindTransient, Message: "回复没有choices"}
	}

	return resp.Choices[0].Message.Content, nil
}

// translateError 把go-openai错误翻译为Oracle错误分类，配额错误顺带轮换密钥
func (p *Provider) translateError(err error, key string) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			retryAfter := 60 * time.Second
			if next, rotateErr := p.config.Credentials.ReportExhausted(key, retryAfter); rotateErr == nil {
				p.logger.FormatWarn("API密钥配额耗尽，已轮换至下一密钥（尾号%s）", tail(next))
			}
			return &oracle.Error{Kind: oracle.ErrKindQuota, RetryAfter: retryAfter, Message: "配额耗尽", Err: err}
		case apiErr.HTTPStatusCode == http.StatusUnauthorized,
			apiErr.HTTPStatusCode == http.StatusForbidden,
			apiErr.HTTPStatusCode == http.StatusBadRequest,
			apiErr.HTTPStatusCode == http.StatusNotFound:
			return &oracle.Error{Kind: oracle.ErrKindInvalid, Message: "请求被拒绝", Err: err}
		default:
			return &oracle.Error{Kind: oracle.ErrKindTransient, Message: "OpenAI服务响应异常", Err: err}
		}
	}
	return &oracle.Error{Kind: oracle.ErrKindTransient, Message: "OpenAI调用失败", Err: err}
}

func tail(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
