package studio

import (
	"papercut-studio-go/src/core/pipeline"
)

// AuthRequest 令牌签发请求：用服务端共享令牌换取操作端JWT
type AuthRequest struct {
	ClientID    string `json:"client_id" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

// AuthResponse 令牌签发响应
type AuthResponse struct {
	Token string `json:"token"`
}

// StandardResponse 通用响应结构
type StandardResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TaskResponse 异步任务提交响应
type TaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// LayerView 对外展示的图层视图，不携带图片负载（图片走单独的下载接口）
type LayerView struct {
	Index                int                 `json:"index"`
	State                pipeline.LayerState `json:"state"`
	Description          string              `json:"description,omitempty"`
	Reasoning            string              `json:"reasoning,omitempty"`
	IsolationDescription string              `json:"isolation_description,omitempty"`
	HasIsolatedImage     bool                `json:"has_isolated_image"`
	HasWeldedImage       bool                `json:"has_welded_image"`
	LastError            string              `json:"last_error,omitempty"`
}

// StatusResponse 项目状态响应
type StatusResponse struct {
	Success           bool        `json:"success"`
	HasProject        bool        `json:"has_project"`
	CurrentLayerIndex int         `json:"current_layer_index"`
	ApprovedLayers    []LayerView `json:"approved_layers,omitempty"`
	Working           *LayerView  `json:"working,omitempty"`
	Message           string      `json:"message,omitempty"`
}

// BenchmarkRequest 策略对比请求：不传策略名时对比全部已配置的Oracle
type BenchmarkRequest struct {
	Strategies []string `json:"strategies,omitempty"`
}

// AuthVerifyResult 认证验证结果
type AuthVerifyResult struct {
	IsValid  bool
	ClientID string
}

func layerView(d *pipeline.LayerDescriptor) LayerView {
	return LayerView{
		Index:                d.Index,
		State:                d.State,
		Description:          d.Description,
		Reasoning:            d.Reasoning,
		IsolationDescription: d.IsolationDescription,
		HasIsolatedImage:     d.IsolatedImage != nil,
		HasWeldedImage:       d.WeldedImage != nil,
		LastError:            d.LastError,
	}
}
