package pipeline

import (
	"context"
	"fmt"
	"sync"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
)

// Pipeline 图层流水线驱动器。
// 每个项目单线程推进：一次只发一个Oracle调用，等结果落地再走下一步。
// 项目状态只在定义好的迁移边界提交（定稿、上传），
// 被放弃的在途调用不会污染最近一次已提交状态。
type Pipeline struct {
	oracle oracle.Provider
	ctrl   *IsolationController
	store  Store
	config *configs.PipelineConfig
	logger *utils.Logger

	mu      sync.Mutex
	project *Project

	// OnEvent 进度事件回调，可为nil
	OnEvent EventFunc

	// Usage Oracle用量统计，可为nil
	Usage UsageSink
}

// NewPipeline 创建流水线
func NewPipeline(provider oracle.Provider, store Store, config *configs.PipelineConfig, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		oracle: provider,
		ctrl:   NewIsolationController(provider, config, logger),
		store:  store,
		config: config,
		logger: logger,
	}
}

func (p *Pipeline) emit(event Event) {
	if p.OnEvent != nil {
		p.OnEvent(event)
	}
}

// Begin 用上传的原图开始新项目。上传即是一次提交边界，立即持久化。
func (p *Pipeline) Begin(ctx context.Context, img image.ImageData) error {
	// 解码验证，坏图在此报DecodeError
	if _, err := image.Decode(img); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.project = &Project{
		OriginalImage:       img,
		CurrentWorkingImage: img,
		CurrentLayerIndex:   0,
		Working:             &LayerDescriptor{Index: 1, State: StateIdle},
	}

	if err := p.store.Save(p.project); err != nil {
		return fmt.Errorf("保存项目失败: %v", err)
	}

	p.logger.Info("新项目已创建，等待第1层分析")
	p.emit(Event{Stage: "begin", LayerIndex: 1, Message: "项目已创建"})
	return nil
}

// Resume 从持久层恢复项目。无存档时返回false。
func (p *Pipeline) Resume() (bool, error) {
	project, err := p.store.Load()
	if err != nil {
		return false, fmt.Errorf("读取项目失败: %v", err)
	}
	if project == nil {
		return false, nil
	}
	if err := project.CheckInvariants(); err != nil {
		return false, fmt.Errorf("存档损坏: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.project = project
	if p.project.Working == nil {
		p.project.Working = &LayerDescriptor{
			Index: p.project.CurrentLayerIndex + 1,
			State: StateIdle,
		}
	}

	p.logger.FormatInfo("项目已恢复，已定稿%d层", project.CurrentLayerIndex)
	return true, nil
}

// working 取当前工作图层，项目未初始化时报错
func (p *Pipeline) working() (*LayerDescriptor, error) {
	if p.project == nil || p.project.Working == nil {
		return nil, fmt.Errorf("项目尚未创建，请先上传原图")
	}
	return p.project.Working, nil
}

// stillWorking 确认在途调用对应的图层仍是当前工作图层。
// 调用期间上传了新项目时，迟到的结果直接丢弃，不污染新项目。
func (p *Pipeline) stillWorking(layer *LayerDescriptor) bool {
	return p.project != nil && p.project.Working == layer
}

// recordQuota 配额类错误计入用量统计
func (p *Pipeline) recordQuota(err error) {
	if p.Usage != nil && oracle.KindOf(err) == oracle.ErrKindQuota {
		p.Usage.RecordQuotaError()
	}
}

// failStage 记录阶段失败，操作员可经Retry回到resume状态重试
func (p *Pipeline) failStage(layer *LayerDescriptor, resume LayerState, stage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	layer.State = StateFailed
	layer.ResumeState = resume
	layer.LastError = err.Error()

	p.logger.FormatError("第%d层%s失败: %v", layer.Index, stage, err)
	p.emit(Event{Stage: stage, LayerIndex: layer.Index, Message: "失败", Err: err.Error()})
}

// Analyze 分析当前图层：始终针对原图，附带已定稿图层的描述。
func (p *Pipeline) Analyze(ctx context.Context) error {
	// Oracle调用在锁外进行，请求材料先在锁内拷贝
	p.mu.Lock()
	layer, err := p.working()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if err := layer.transition(StateAnalyzing); err != nil {
		p.mu.Unlock()
		return err
	}
	original := p.project.OriginalImage
	previous := p.project.PreviousDescriptions()
	index := layer.Index
	p.mu.Unlock()

	p.emit(Event{Stage: "analyze", LayerIndex: index, Message: "开始分析"})

	desc, err := p.oracle.Describe(ctx, oracle.DescribeRequest{
		Image:                original,
		LayerIndex:           index,
		PreviousDescriptions: previous,
	})
	if err != nil {
		p.recordQuota(err)
		p.failStage(layer, StateAnalyzing, "analyze", err)
		return err
	}
	if p.Usage != nil {
		p.Usage.RecordDescribe()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stillWorking(layer) {
		p.logger.FormatWarn("第%d层分析结果晚于新项目上传，丢弃", index)
		return nil
	}

	layer.Description = desc.Description
	layer.Reasoning = desc.Reasoning
	if err := layer.transition(StateDescribed); err != nil {
		return err
	}

	p.logger.FormatInfo("第%d层描述完成: %s", index, desc.Description)
	p.emit(Event{Stage: "analyze", LayerIndex: index, Message: desc.Description})
	return nil
}

// PrepareIsolation 由图层描述生成抠取指令。
// 抠取指令描述抠取后的外观，与分析描述是两回事，所以单独一次文本调用。
func (p *Pipeline) PrepareIsolation(ctx context.Context) error {
	p.mu.Lock()
	layer, err := p.working()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if layer.State != StateDescribed {
		p.mu.Unlock()
		return &StateError{From: layer.State, To: StateIsolationPending}
	}
	desc := oracle.LayerDescription{
		LayerIndex:  layer.Index,
		Description: layer.Description,
		Reasoning:   layer.Reasoning,
	}
	p.mu.Unlock()

	instruction, err := p.oracle.IsolationPrompt(ctx, desc)
	if err != nil {
		p.recordQuota(err)
		p.failStage(layer, StateDescribed, "prepare_isolation", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stillWorking(layer) {
		p.logger.FormatWarn("第%d层抠取指令晚于新项目上传，丢弃", layer.Index)
		return nil
	}

	layer.IsolationDescription = instruction
	if err := layer.transition(StateIsolationPending); err != nil {
		return err
	}

	p.emit(Event{Stage: "prepare_isolation", LayerIndex: layer.Index, Message: "抠取指令就绪"})
	return nil
}

// RunIsolation 执行抠取（带校验重试）。
// 第1层没有可焊接的历史，直接对空集焊接后进入最终确认；
// 第2层起必须先由操作员确认抠取结果——焊接会吞掉
// “本层自身像素”与“吸收的上层像素”之间的区别，不可逆。
func (p *Pipeline) RunIsolation(ctx context.Context, onAttempt AttemptFunc) error {
	p.mu.Lock()
	layer, err := p.working()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if layer.State != StateIsolationPending {
		p.mu.Unlock()
		return &StateError{From: layer.State, To: StateIsolationAwaitingApproval}
	}
	original := p.project.OriginalImage
	instruction := layer.IsolationDescription
	index := layer.Index
	p.mu.Unlock()

	p.emit(Event{Stage: "isolate", LayerIndex: index, Message: "开始抠取"})

	report := func(r AttemptReport) {
		if r.ErrKind == string(oracle.ErrKindQuota) && p.Usage != nil {
			p.Usage.RecordQuotaError()
		}
		p.emit(Event{
			Stage:      "isolate",
			LayerIndex: index,
			Attempt:    r.Attempt,
			Message:    attemptMessage(r),
			Err:        r.Err,
		})
		if onAttempt != nil {
			onAttempt(r)
		}
	}

	outcome, err := p.ctrl.IsolateWithValidation(ctx, original, instruction, index, report)
	if err != nil {
		p.failStage(layer, StateIsolationPending, "isolate", err)
		return err
	}
	if p.Usage != nil {
		p.Usage.RecordIsolation(outcome.AttemptCount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stillWorking(layer) {
		p.logger.FormatWarn("第%d层抠取结果晚于新项目上传，丢弃", index)
		return nil
	}

	layer.IsolatedImage = &outcome.Image

	if layer.Index > 1 {
		if err := layer.transition(StateIsolationAwaitingApproval); err != nil {
			return err
		}
		p.emit(Event{Stage: "isolate", LayerIndex: index, Attempt: outcome.AttemptCount,
			Message: "抠取合规，等待操作员确认"})
		return nil
	}

	// 第1层：无需抠取确认门，直接焊接（对空集）后进入最终确认
	if err := layer.transition(StateWelding); err != nil {
		return err
	}
	if err := p.weldLocked(layer); err != nil {
		layer.State = StateFailed
		layer.ResumeState = StateIsolationPending
		layer.LastError = err.Error()
		return err
	}
	if err := layer.transition(StateReadyForApproval); err != nil {
		return err
	}

	p.emit(Event{Stage: "weld", LayerIndex: index, Attempt: outcome.AttemptCount,
		Message: "焊接完成，等待最终确认"})
	return nil
}

// ApproveIsolation 操作员确认抠取结果（仅第2层起），随后焊接。
func (p *Pipeline) ApproveIsolation(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	layer, err := p.working()
	if err != nil {
		return err
	}
	if err := layer.transition(StateWelding); err != nil {
		return err
	}

	if err := p.weldLocked(layer); err != nil {
		layer.State = StateFailed
		layer.ResumeState = StateIsolationPending
		layer.LastError = err.Error()
		p.emit(Event{Stage: "weld", LayerIndex: layer.Index, Message: "焊接失败", Err: err.Error()})
		return err
	}
	if err := layer.transition(StateReadyForApproval); err != nil {
		return err
	}

	p.emit(Event{Stage: "weld", LayerIndex: layer.Index, Message: "焊接完成，等待最终确认"})
	return nil
}

// weldLocked 把当前抠取结果与所有已定稿图层的定稿图焊接。
// 焊接看到的一定是1..N-1层的最终定稿图，绝不是中间产物。
func (p *Pipeline) weldLocked(layer *LayerDescriptor) error {
	current, err := image.Decode(*layer.IsolatedImage)
	if err != nil {
		return err
	}

	previous := make([]*image.PixelBuffer, 0, len(p.project.ApprovedLayers))
	for _, approved := range p.project.ApprovedLayers {
		buf, err := image.Decode(*approved.WeldedImage)
		if err != nil {
			return fmt.Errorf("解码第%d层定稿图失败: %w", approved.Index, err)
		}
		previous = append(previous, buf)
	}

	welded, err := image.Weld(current, previous, nil)
	if err != nil {
		return err
	}

	encoded, err := welded.Encode()
	if err != nil {
		return err
	}
	layer.WeldedImage = &encoded

	p.logger.FormatInfo("第%d层焊接完成，并入%d个历史图层", layer.Index, len(previous))
	return nil
}

// ApproveLayer 操作员最终定稿。这是唯一推进项目提交状态的边界：
// 图层归档、序号递增、整体持久化，然后为下一层开一个空白工作位。
func (p *Pipeline) ApproveLayer(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	layer, err := p.working()
	if err != nil {
		return err
	}
	if err := layer.transition(StateApproved); err != nil {
		return err
	}

	layer.Approved = true
	p.project.ApprovedLayers = append(p.project.ApprovedLayers, layer)
	p.project.CurrentLayerIndex++
	p.project.CurrentWorkingImage = *layer.WeldedImage
	p.project.Working = &LayerDescriptor{Index: layer.Index + 1, State: StateIdle}

	if err := p.project.CheckInvariants(); err != nil {
		return err
	}
	if err := p.store.Save(p.project); err != nil {
		return fmt.Errorf("保存项目失败: %v", err)
	}

	p.logger.FormatInfo("第%d层已定稿，进入第%d层", layer.Index, layer.Index+1)
	p.emit(Event{Stage: "approve", LayerIndex: layer.Index, Message: "图层已定稿"})
	return nil
}

// Rerun 重抠：丢弃当前抠取/焊接产物，用既有抠取指令重新排队。
// 只回退抠取/焊接子状态，分析结果与已定稿历史不动。
func (p *Pipeline) Rerun(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	layer, err := p.working()
	if err != nil {
		return err
	}
	if layer.IsolationDescription == "" {
		return fmt.Errorf("第%d层还没有抠取指令，无法重抠", layer.Index)
	}
	if err := layer.transition(StateIsolationPending); err != nil {
		return err
	}

	layer.IsolatedImage = nil
	layer.WeldedImage = nil
	layer.LastError = ""
	layer.ResumeState = ""

	p.emit(Event{Stage: "rerun", LayerIndex: layer.Index, Message: "已重置抠取状态"})
	return nil
}

// Retry 从失败状态回到可重试的目标状态（不自动重发调用，由操作员再触发）
func (p *Pipeline) Retry(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	layer, err := p.working()
	if err != nil {
		return err
	}
	if layer.State != StateFailed {
		return fmt.Errorf("第%d层不处于失败状态", layer.Index)
	}

	resume := layer.ResumeState
	if resume == "" {
		resume = StateIdle
	}

	// 回到失败阶段的前置状态：Analyzing/Described/IsolationPending
	switch resume {
	case StateAnalyzing:
		layer.State = StateIdle
	case StateDescribed, StateIsolationPending:
		layer.State = resume
	default:
		layer.State = StateIdle
	}
	layer.LastError = ""
	layer.ResumeState = ""

	p.emit(Event{Stage: "retry", LayerIndex: layer.Index, Message: string(layer.State)})
	return nil
}

// Snapshot 返回项目的深层只读快照（JSON往返开销可接受，图片是值类型字符串）
func (p *Pipeline) Snapshot() *Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.project == nil {
		return nil
	}

	clone := *p.project
	clone.ApprovedLayers = make([]*LayerDescriptor, len(p.project.ApprovedLayers))
	for i, layer := range p.project.ApprovedLayers {
		layerCopy := *layer
		clone.ApprovedLayers[i] = &layerCopy
	}
	if p.project.Working != nil {
		workingCopy := *p.project.Working
		clone.Working = &workingCopy
	}
	return &clone
}

// Clear 清空项目与存档
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.project = nil
	return p.store.Clear()
}

func attemptMessage(r AttemptReport) string {
	if r.Err != "" {
		return fmt.Sprintf("第%d次尝试调用失败", r.Attempt)
	}
	if r.Validation != nil {
		return fmt.Sprintf("第%d次尝试不合规: %s", r.Attempt, r.Validation.Reason)
	}
	return fmt.Sprintf("第%d次尝试", r.Attempt)
}
