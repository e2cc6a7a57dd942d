package pipeline

import (
	"fmt"

	"papercut-studio-go/src/core/image"
)

// LayerState 单个图层的显式状态。
// 状态用具名枚举而不是布尔旗标组合表达，非法迁移在入口处直接拒绝。
type LayerState string

const (
	StateIdle                      LayerState = "idle"                         // 等待分析
	StateAnalyzing                 LayerState = "analyzing"                    // 正在请求图层描述
	StateDescribed                 LayerState = "described"                    // 已获得描述，待生成抠取指令
	StateIsolationPending          LayerState = "isolation_pending"            // 抠取指令就绪，待执行抠取
	StateIsolationAwaitingApproval LayerState = "isolation_awaiting_approval"  // 抠取完成，等操作员确认（仅第2层起）
	StateWelding                   LayerState = "welding"                      // 正在焊接
	StateReadyForApproval          LayerState = "ready_for_approval"           // 焊接完成，等最终确认
	StateApproved                  LayerState = "approved"                     // 已定稿归档
	StateFailed                    LayerState = "failed"                       // 出错，等操作员选择重试/重抠/放弃
)

// legalTransitions 合法状态迁移表
var legalTransitions = map[LayerState][]LayerState{
	StateIdle:                      {StateAnalyzing},
	StateAnalyzing:                 {StateDescribed, StateFailed},
	StateDescribed:                 {StateIsolationPending, StateFailed},
	StateIsolationPending:          {StateIsolationPending, StateIsolationAwaitingApproval, StateWelding, StateReadyForApproval, StateFailed},
	StateIsolationAwaitingApproval: {StateWelding, StateIsolationPending, StateFailed},
	StateWelding:                   {StateReadyForApproval, StateIsolationPending, StateFailed},
	StateReadyForApproval:          {StateApproved, StateIsolationPending},
	StateFailed:                    {StateAnalyzing, StateDescribed, StateIsolationPending},
}

func canTransition(from, to LayerState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateError 非法状态迁移
type StateError struct {
	From LayerState
	To   LayerState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("非法状态迁移: %s -> %s", e.From, e.To)
}

// LayerDescriptor 单个图层的全部工作状态。
// 状态只向前推进，除非操作员显式触发重抠（只回退抠取/焊接子状态）。
// 定稿后归档，不再修改。
type LayerDescriptor struct {
	Index                int              `json:"index"` // 1起始，严格递增
	Description          string           `json:"description"`
	Reasoning            string           `json:"reasoning"`
	IsolationDescription string           `json:"isolation_description,omitempty"`
	IsolatedImage        *image.ImageData `json:"isolated_image,omitempty"`
	WeldedImage          *image.ImageData `json:"welded_image,omitempty"`
	Approved             bool             `json:"approved"`
	State                LayerState       `json:"state"`
	ResumeState          LayerState       `json:"resume_state,omitempty"` // Failed时记录可重试的目标状态
	LastError            string           `json:"last_error,omitempty"`
}

// transition 推进图层状态，非法迁移报StateError
func (d *LayerDescriptor) transition(to LayerState) error {
	if !canTransition(d.State, to) {
		return &StateError{From: d.State, To: to}
	}
	d.State = to
	return nil
}

// Project 项目整体状态，持久化的最小单元，由流水线独占持有。
// 不变量：len(ApprovedLayers) == CurrentLayerIndex；
// ApprovedLayers[i].Index == i+1。
type Project struct {
	OriginalImage       image.ImageData    `json:"original_image"`
	CurrentWorkingImage image.ImageData    `json:"current_working_image"`
	ApprovedLayers      []*LayerDescriptor `json:"approved_layers"`
	CurrentLayerIndex   int                `json:"current_layer_index"`

	// Working 当前未定稿的图层，只在定稿边界并入ApprovedLayers
	Working *LayerDescriptor `json:"working,omitempty"`
}

// CheckInvariants 校验项目不变量，任何已提交迁移之后都必须成立
func (p *Project) CheckInvariants() error {
	if len(p.ApprovedLayers) != p.CurrentLayerIndex {
		return fmt.Errorf("不变量被破坏: len(ApprovedLayers)=%d != CurrentLayerIndex=%d",
			len(p.ApprovedLayers), p.CurrentLayerIndex)
	}
	for i, layer := range p.ApprovedLayers {
		if layer.Index != i+1 {
			return fmt.Errorf("不变量被破坏: ApprovedLayers[%d].Index=%d != %d", i, layer.Index, i+1)
		}
		if !layer.Approved {
			return fmt.Errorf("不变量被破坏: ApprovedLayers[%d]未定稿", i)
		}
	}
	return nil
}

// PreviousDescriptions 已定稿图层的描述，按深度顺序
func (p *Project) PreviousDescriptions() []string {
	descs := make([]string, 0, len(p.ApprovedLayers))
	for _, layer := range p.ApprovedLayers {
		descs = append(descs, layer.Description)
	}
	return descs
}

// Store 项目持久化边界。实现需无损往返全部图片负载。
type Store interface {
	Save(project *Project) error
	Load() (*Project, error) // 无存档时返回 (nil, nil)
	Clear() error
}

// Event 流水线进度事件，推给操作端展示
type Event struct {
	Stage      string `json:"stage"`
	LayerIndex int    `json:"layer_index"`
	Attempt    int    `json:"attempt,omitempty"`
	Message    string `json:"message"`
	Err        string `json:"error,omitempty"`
}

// EventFunc 进度事件回调
type EventFunc func(Event)

// UsageSink Oracle调用用量统计边界，供观察配额消耗
type UsageSink interface {
	RecordDescribe()
	RecordIsolation(attempts int)
	RecordQuotaError()
}
