package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Provider Gemini generateContent端点的Oracle提供者。
// 文本与图片输出都走同一个端点，图片以inlineData返回。
type Provider struct {
	config     *oracle.Config
	logger     *utils.Logger
	httpClient *http.Client
}

func init() {
	oracle.Register("gemini", NewProvider)
}

// NewProvider 创建Gemini Oracle提供者
func NewProvider(config *oracle.Config, logger *utils.Logger) (oracle.Provider, error) {
	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	if p.config.Credentials == nil {
		return fmt.Errorf("missing Gemini credential source")
	}
	if p.config.BaseURL == "" {
		p.config.BaseURL = defaultBaseURL
	}
	if _, err := p.config.Credentials.Current(); err != nil {
		return fmt.Errorf("没有可用的API密钥: %v", err)
	}

	p.logger.Debug("Gemini Oracle初始化成功 %v", map[string]interface{}{
		"base_url": p.config.BaseURL,
		"model":    p.config.ModelName,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// geminiBlob 内联二进制数据
type geminiBlob struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

// geminiRequestPart 请求消息片段
type geminiRequestPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

// geminiContent 请求消息体
type geminiContent struct {
	Role  string              `json:"role,omitempty"`
	Parts []geminiRequestPart `json:"parts"`
}

// geminiGenerationConfig 采样与输出模态配置
type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	TopP               float64  `json:"topP,omitempty"`
	TopK               int      `json:"topK,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// geminiRequest generateContent请求结构
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// geminiResponsePart 响应片段，注意响应侧字段是驼峰命名
type geminiResponsePart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

// geminiResponse generateContent响应结构
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiResponsePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Describe 请求图层描述
func (p *Provider) Describe(ctx context.Context, req oracle.DescribeRequest) (*oracle.LayerDescription, error) {
	prompt := oracle.BuildDescribePrompt(req)

	resp, err := p.generateContent(ctx, prompt, &req.Image, p.config.Analysis, nil)
	if err != nil {
		return nil, err
	}

	desc, err := oracle.ParseDescriptionJSON(firstText(resp), req.LayerIndex)
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "描述回复格式异常", Err: err}
	}
	return desc, nil
}

// IsolationPrompt 生成抠取指令
func (p *Provider) IsolationPrompt(ctx context.Context, desc oracle.LayerDescription) (string, error) {
	prompt := oracle.BuildIsolationPromptRequest(desc)

	resp, err := p.generateContent(ctx, prompt, nil, p.config.Analysis, nil)
	if err != nil {
		return "", err
	}

	instruction := strings.TrimSpace(firstText(resp))
	if instruction == "" {
		return "", &oracle.Error{Kind: oracle.ErrKindTransient, Message: "抠取指令为空"}
	}
	return instruction, nil
}

// Isolate 请求抠取后的图层图片
func (p *Provider) Isolate(ctx context.Context, req oracle.IsolateRequest) (*image.ImageData, error) {
	prompt := oracle.BuildIsolatePrompt(req)

	resp, err := p.generateContent(ctx, prompt, &req.Image, p.config.Isolation, []string{"TEXT", "IMAGE"})
	if err != nil {
		return nil, err
	}

	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				format := strings.TrimPrefix(part.InlineData.MimeType, "image/")
				if format == "" || format == part.InlineData.MimeType {
					format = "png"
				}
				return &image.ImageData{Data: part.InlineData.Data, Format: format}, nil
			}
		}
	}

	return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "回复中没有内联图片数据"}
}

// generateContent 发起一次generateContent调用
func (p *Provider) generateContent(ctx context.Context, prompt string, img *image.ImageData, sampling configs.SamplingConfig, modalities []string) (*geminiResponse, error) {
	key, err := p.config.Credentials.Current()
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindQuota, Message: "没有可用的API密钥", Err: err}
	}

	parts := []geminiRequestPart{{Text: prompt}}
	if img != nil {
		parts = append(parts, geminiRequestPart{
			InlineData: &geminiBlob{MimeType: img.MIMEType(), Data: img.Data},
		})
	}

	request := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:        sampling.Temperature,
			TopP:               sampling.TopP,
			TopK:               sampling.TopK,
			MaxOutputTokens:    sampling.MaxTokens,
			ResponseModalities: modalities,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindInvalid, Message: "请求序列化失败", Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimSuffix(p.config.BaseURL, "/"), p.config.ModelName)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindInvalid, Message: "创建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "Gemini API调用失败", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "读取响应失败", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.translateHTTPError(resp, body, key)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "解析响应失败", Err: err}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &oracle.Error{Kind: oracle.ErrKindTransient, Message: "回复没有candidates"}
	}

	return &parsed, nil
}

// translateHTTPError 把HTTP错误翻译为Oracle错误分类，配额错误顺带轮换密钥
func (p *Provider) translateHTTPError(resp *http.Response, body []byte, key string) error {
	message := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if next, rotateErr := p.config.Credentials.ReportExhausted(key, retryAfter); rotateErr == nil {
			p.logger.FormatWarn("API密钥配额耗尽，已轮换至下一密钥（尾号%s）", tail(next))
		}
		return &oracle.Error{Kind: oracle.ErrKindQuota, RetryAfter: retryAfter, Message: message}
	case resp.StatusCode >= 500:
		return &oracle.Error{Kind: oracle.ErrKindTransient, Message: message}
	default:
		return &oracle.Error{Kind: oracle.ErrKindInvalid, Message: message}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 60 * time.Second
}

func tail(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

// firstText 取第一段文本内容
func firstText(resp *geminiResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}
