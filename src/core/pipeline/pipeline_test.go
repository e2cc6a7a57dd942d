package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/providers/oracle"
)

// memoryStore 内存存储桩，JSON往返做深拷贝并统计提交次数
type memoryStore struct {
	snapshot  []byte
	saveCount int
}

func (m *memoryStore) Save(project *Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	m.snapshot = data
	m.saveCount++
	return nil
}

func (m *memoryStore) Load() (*Project, error) {
	if m.snapshot == nil {
		return nil, nil
	}
	project := &Project{}
	if err := json.Unmarshal(m.snapshot, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (m *memoryStore) Clear() error {
	m.snapshot = nil
	return nil
}

// scriptedOracle 全功能Oracle桩：按层号给描述，按调用顺序给抠取图
type scriptedOracle struct {
	descriptions map[int]string
	isolations   []image.ImageData
	isolateCalls int

	describeErr     error
	lastDescribeReq oracle.DescribeRequest
}

func (s *scriptedOracle) Initialize() error { return nil }
func (s *scriptedOracle) Cleanup() error    { return nil }

func (s *scriptedOracle) Describe(ctx context.Context, req oracle.DescribeRequest) (*oracle.LayerDescription, error) {
	s.lastDescribeReq = req
	if s.describeErr != nil {
		return nil, s.describeErr
	}
	desc, ok := s.descriptions[req.LayerIndex]
	if !ok {
		return nil, fmt.Errorf("脚本没有第%d层的描述", req.LayerIndex)
	}
	return &oracle.LayerDescription{
		LayerIndex:  req.LayerIndex,
		Description: desc,
		Reasoning:   "测试推理",
	}, nil
}

func (s *scriptedOracle) IsolationPrompt(ctx context.Context, desc oracle.LayerDescription) (string, error) {
	return "抠取后外观: " + desc.Description, nil
}

func (s *scriptedOracle) Isolate(ctx context.Context, req oracle.IsolateRequest) (*image.ImageData, error) {
	if s.isolateCalls >= len(s.isolations) {
		return nil, fmt.Errorf("脚本只有%d次抠取响应", len(s.isolations))
	}
	img := s.isolations[s.isolateCalls]
	s.isolateCalls++
	return &img, nil
}

// bottomLeftBlueImage 仅左下角一个蓝色不透明像素
func bottomLeftBlueImage(t *testing.T) image.ImageData {
	return encodeImage(t, func(b *image.PixelBuffer) {
		b.SetRGBA(0, 1, 0, 0, 255, 255)
	})
}

func newTestPipeline(t *testing.T, stub oracle.Provider, store Store) *Pipeline {
	t.Helper()
	cfg := &configs.PipelineConfig{MaxIsolationAttempts: 3}
	p := NewPipeline(stub, store, cfg, newTestLogger(t))
	p.ctrl.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func TestPipelineTwoLayerFlow(t *testing.T) {
	ctx := context.Background()
	stub := &scriptedOracle{
		descriptions: map[int]string{1: "红色背景条", 2: "蓝色前景块"},
		isolations:   []image.ImageData{singleFillImage(t), bottomLeftBlueImage(t)},
	}
	store := &memoryStore{}
	p := newTestPipeline(t, stub, store)

	var stages []string
	p.OnEvent = func(e Event) { stages = append(stages, e.Stage) }

	// 上传即是一次提交
	if err := p.Begin(ctx, singleFillImage(t)); err != nil {
		t.Fatalf("Begin失败: %v", err)
	}
	if store.saveCount != 1 {
		t.Fatalf("上传后应保存1次, 实际%d次", store.saveCount)
	}

	// ---- 第1层 ----
	if err := p.Analyze(ctx); err != nil {
		t.Fatalf("第1层Analyze失败: %v", err)
	}
	if len(stub.lastDescribeReq.PreviousDescriptions) != 0 {
		t.Errorf("第1层分析不应携带历史描述: %v", stub.lastDescribeReq.PreviousDescriptions)
	}
	if err := p.PrepareIsolation(ctx); err != nil {
		t.Fatalf("第1层PrepareIsolation失败: %v", err)
	}
	if err := p.RunIsolation(ctx, nil); err != nil {
		t.Fatalf("第1层RunIsolation失败: %v", err)
	}

	// 第1层没有抠取确认门，直接到最终确认
	snap := p.Snapshot()
	if snap.Working.State != StateReadyForApproval {
		t.Fatalf("第1层状态 = %s, want %s", snap.Working.State, StateReadyForApproval)
	}
	if snap.Working.WeldedImage == nil {
		t.Fatal("第1层应已有定稿图")
	}

	if err := p.ApproveLayer(ctx); err != nil {
		t.Fatalf("第1层定稿失败: %v", err)
	}
	if store.saveCount != 2 {
		t.Errorf("定稿后应累计保存2次, 实际%d次", store.saveCount)
	}

	// ---- 第2层 ----
	if err := p.Analyze(ctx); err != nil {
		t.Fatalf("第2层Analyze失败: %v", err)
	}
	// 分析始终针对原图，并携带已定稿描述
	if len(stub.lastDescribeReq.PreviousDescriptions) != 1 ||
		stub.lastDescribeReq.PreviousDescriptions[0] != "红色背景条" {
		t.Errorf("第2层历史描述 = %v, want [红色背景条]", stub.lastDescribeReq.PreviousDescriptions)
	}
	if err := p.PrepareIsolation(ctx); err != nil {
		t.Fatalf("第2层PrepareIsolation失败: %v", err)
	}
	if err := p.RunIsolation(ctx, nil); err != nil {
		t.Fatalf("第2层RunIsolation失败: %v", err)
	}

	// 第2层起必须先确认抠取结果
	snap = p.Snapshot()
	if snap.Working.State != StateIsolationAwaitingApproval {
		t.Fatalf("第2层状态 = %s, want %s", snap.Working.State, StateIsolationAwaitingApproval)
	}
	if snap.Working.WeldedImage != nil {
		t.Error("确认抠取前不应焊接")
	}

	if err := p.ApproveIsolation(ctx); err != nil {
		t.Fatalf("第2层确认抠取失败: %v", err)
	}

	// 焊接 = 历史掩码并集 + 本层主导色统一填充
	snap = p.Snapshot()
	welded, err := image.Decode(*snap.Working.WeldedImage)
	if err != nil {
		t.Fatalf("解码第2层定稿图失败: %v", err)
	}
	opaque := 0
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			r, g, b, a := welded.RGBA(x, y)
			if a == 0 {
				continue
			}
			opaque++
			if r != 0 || g != 0 || b != 255 {
				t.Errorf("(%d,%d) = rgb(%d,%d,%d), 应统一为蓝色", x, y, r, g, b)
			}
		}
	}
	if opaque != 3 {
		t.Errorf("不透明像素数 = %d, want 3（上排两个+左下一个）", opaque)
	}
	if _, _, _, a := welded.RGBA(1, 1); a != 0 {
		t.Error("右下角应保持透明")
	}

	if err := p.ApproveLayer(ctx); err != nil {
		t.Fatalf("第2层定稿失败: %v", err)
	}
	if store.saveCount != 3 {
		t.Errorf("两层定稿后应累计保存3次, 实际%d次", store.saveCount)
	}

	// 项目不变量与推进
	snap = p.Snapshot()
	if err := snap.CheckInvariants(); err != nil {
		t.Errorf("不变量被破坏: %v", err)
	}
	if snap.CurrentLayerIndex != 2 || len(snap.ApprovedLayers) != 2 {
		t.Errorf("进度 = %d/%d层, want 2/2", snap.CurrentLayerIndex, len(snap.ApprovedLayers))
	}
	if snap.Working.Index != 3 || snap.Working.State != StateIdle {
		t.Errorf("下一工作位 = 第%d层/%s, want 第3层/idle", snap.Working.Index, snap.Working.State)
	}
	if snap.CurrentWorkingImage.Data != snap.ApprovedLayers[1].WeldedImage.Data {
		t.Error("当前工作图应为最后定稿图")
	}

	// 事件按阶段发布
	wantStages := map[string]bool{"begin": false, "analyze": false, "isolate": false, "weld": false, "approve": false}
	for _, stage := range stages {
		if _, ok := wantStages[stage]; ok {
			wantStages[stage] = true
		}
	}
	for stage, seen := range wantStages {
		if !seen {
			t.Errorf("缺少%s阶段事件", stage)
		}
	}

	// 存档可无损恢复
	restored := newTestPipeline(t, stub, store)
	ok, err := restored.Resume()
	if err != nil || !ok {
		t.Fatalf("Resume = %v, %v; want true", ok, err)
	}
	rsnap := restored.Snapshot()
	if rsnap.CurrentLayerIndex != 2 || rsnap.ApprovedLayers[0].Description != "红色背景条" {
		t.Errorf("恢复后的项目不完整: 进度%d层", rsnap.CurrentLayerIndex)
	}
}

func TestPipelineStateGates(t *testing.T) {
	ctx := context.Background()
	stub := &scriptedOracle{descriptions: map[int]string{1: "红色背景条"}}
	p := newTestPipeline(t, stub, &memoryStore{})

	if err := p.Analyze(ctx); err == nil {
		t.Error("未上传原图时Analyze应报错")
	}
	if err := p.Begin(ctx, singleFillImage(t)); err != nil {
		t.Fatalf("Begin失败: %v", err)
	}

	var stateErr *StateError
	if err := p.ApproveLayer(ctx); !errors.As(err, &stateErr) {
		t.Errorf("idle状态定稿应报StateError, 实际 %v", err)
	}
	if err := p.RunIsolation(ctx, nil); !errors.As(err, &stateErr) {
		t.Errorf("未生成抠取指令时RunIsolation应报StateError, 实际 %v", err)
	}
	if err := p.PrepareIsolation(ctx); !errors.As(err, &stateErr) {
		t.Errorf("未分析时PrepareIsolation应报StateError, 实际 %v", err)
	}
	if err := p.Rerun(ctx); err == nil {
		t.Error("没有抠取指令时Rerun应报错")
	}
}

func TestPipelineRerun(t *testing.T) {
	ctx := context.Background()
	stub := &scriptedOracle{
		descriptions: map[int]string{1: "红色背景条"},
		isolations:   []image.ImageData{singleFillImage(t), singleFillImage(t)},
	}
	p := newTestPipeline(t, stub, &memoryStore{})

	if err := p.Begin(ctx, singleFillImage(t)); err != nil {
		t.Fatalf("Begin失败: %v", err)
	}
	if err := p.Analyze(ctx); err != nil {
		t.Fatalf("Analyze失败: %v", err)
	}
	if err := p.PrepareIsolation(ctx); err != nil {
		t.Fatalf("PrepareIsolation失败: %v", err)
	}

	// 指令就绪但尚未执行时重抠等价于重新排队，不应报非法迁移
	if err := p.Rerun(ctx); err != nil {
		t.Fatalf("抠取执行前Rerun失败: %v", err)
	}

	if err := p.RunIsolation(ctx, nil); err != nil {
		t.Fatalf("RunIsolation失败: %v", err)
	}

	// 重抠只回退抠取/焊接子状态，描述与指令保留
	if err := p.Rerun(ctx); err != nil {
		t.Fatalf("Rerun失败: %v", err)
	}
	snap := p.Snapshot()
	if snap.Working.State != StateIsolationPending {
		t.Errorf("重抠后状态 = %s, want %s", snap.Working.State, StateIsolationPending)
	}
	if snap.Working.IsolatedImage != nil || snap.Working.WeldedImage != nil {
		t.Error("重抠应丢弃抠取/焊接产物")
	}
	if snap.Working.Description == "" || snap.Working.IsolationDescription == "" {
		t.Error("重抠不应丢弃描述与抠取指令")
	}

	if err := p.RunIsolation(ctx, nil); err != nil {
		t.Fatalf("重抠执行失败: %v", err)
	}
	if stub.isolateCalls != 2 {
		t.Errorf("抠取调用次数 = %d, want 2", stub.isolateCalls)
	}
}

func TestPipelineRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	stub := &scriptedOracle{
		descriptions: map[int]string{1: "红色背景条"},
		describeErr:  &oracle.Error{Kind: oracle.ErrKindTransient, Message: "超时"},
	}
	p := newTestPipeline(t, stub, &memoryStore{})

	if err := p.Begin(ctx, singleFillImage(t)); err != nil {
		t.Fatalf("Begin失败: %v", err)
	}
	if err := p.Analyze(ctx); err == nil {
		t.Fatal("Describe出错时Analyze应失败")
	}

	snap := p.Snapshot()
	if snap.Working.State != StateFailed || snap.Working.LastError == "" {
		t.Fatalf("失败后状态 = %s（%s）, want failed", snap.Working.State, snap.Working.LastError)
	}

	// 失败不自动重发，由操作员Retry回到可重试状态
	if err := p.Retry(ctx); err != nil {
		t.Fatalf("Retry失败: %v", err)
	}
	if snap = p.Snapshot(); snap.Working.State != StateIdle {
		t.Fatalf("Retry后状态 = %s, want idle", snap.Working.State)
	}

	stub.describeErr = nil
	if err := p.Analyze(ctx); err != nil {
		t.Fatalf("恢复后Analyze失败: %v", err)
	}
	if snap = p.Snapshot(); snap.Working.State != StateDescribed {
		t.Errorf("状态 = %s, want described", snap.Working.State)
	}
}

// blockingOracle 在Describe入口阻塞，模拟分析在途时的并发操作
type blockingOracle struct {
	scriptedOracle
	started chan struct{}
	release chan struct{}
}

func (b *blockingOracle) Describe(ctx context.Context, req oracle.DescribeRequest) (*oracle.LayerDescription, error) {
	close(b.started)
	<-b.release
	return b.scriptedOracle.Describe(ctx, req)
}

func TestPipelineAnalyzeDiscardsStaleResult(t *testing.T) {
	ctx := context.Background()
	stub := &blockingOracle{
		scriptedOracle: scriptedOracle{descriptions: map[int]string{1: "红色背景条"}},
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	store := &memoryStore{}
	p := newTestPipeline(t, stub, store)

	first := singleFillImage(t)
	if err := p.Begin(ctx, first); err != nil {
		t.Fatalf("Begin失败: %v", err)
	}

	analyzeDone := make(chan error, 1)
	go func() { analyzeDone <- p.Analyze(ctx) }()
	<-stub.started

	// 分析还在途时上传新项目
	second := bottomLeftBlueImage(t)
	if err := p.Begin(ctx, second); err != nil {
		t.Fatalf("在途分析期间Begin失败: %v", err)
	}
	close(stub.release)

	if err := <-analyzeDone; err != nil {
		t.Fatalf("迟到的分析不应报错: %v", err)
	}

	// 请求材料在启动时锁内拷贝，携带旧项目的原图
	if stub.lastDescribeReq.Image.Data != first.Data {
		t.Error("分析应携带启动时的原图")
	}

	// 迟到的结果被丢弃，新项目不受污染
	snap := p.Snapshot()
	if snap.OriginalImage.Data != second.Data {
		t.Fatal("新项目原图被覆盖")
	}
	if snap.Working.State != StateIdle || snap.Working.Description != "" {
		t.Errorf("新工作位 = %s（描述%q）, want idle且无描述", snap.Working.State, snap.Working.Description)
	}
	if store.saveCount != 2 {
		t.Errorf("保存次数 = %d, want 2（两次上传各一次）", store.saveCount)
	}
}

func TestPipelineInvalidUpload(t *testing.T) {
	p := newTestPipeline(t, &scriptedOracle{}, &memoryStore{})

	err := p.Begin(context.Background(), image.ImageData{Data: "aGVsbG8=", Format: "png"})
	var decodeErr *image.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("坏图上传应报DecodeError, 实际 %v", err)
	}
	if p.Snapshot() != nil {
		t.Error("坏图上传不应创建项目")
	}
}
