package oracle

import (
	"fmt"
	"strings"
)

// 提示词构造。分析与抠取共用同一套措辞，集中维护，
// 两个提供者实现只负责传输格式的差异。

// BuildDescribePrompt 构造图层分析提示词
func BuildDescribePrompt(req DescribeRequest) string {
	var sb strings.Builder

	sb.WriteString("You are analyzing layered papercraft / vector artwork. ")
	sb.WriteString("Each layer is a single physical cardstock piece with exactly one fill color, ")
	sb.WriteString("stacked front-to-back.\n\n")
	fmt.Fprintf(&sb, "Identify layer %d: the topmost layer that has NOT been described yet.\n", req.LayerIndex)

	if len(req.PreviousDescriptions) > 0 {
		sb.WriteString("\nLayers already identified (do not describe them again):\n")
		for i, desc := range req.PreviousDescriptions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, desc)
		}
	}

	sb.WriteString("\nReply with strict JSON, no markdown fences:\n")
	sb.WriteString(`{"description": "<what the layer depicts and its single fill color>", "reasoning": "<why this is the next topmost layer>"}`)

	return sb.String()
}

// BuildIsolationPromptRequest 构造“生成抠取指令”的提示词。
// 抠取指令必须描述抠取后的外观，而非原图语境下的外观，
// 所以这是独立于分析描述的一次文本调用。
func BuildIsolationPromptRequest(desc LayerDescription) string {
	var sb strings.Builder

	sb.WriteString("Write an image-editing instruction that extracts one papercraft layer.\n\n")
	fmt.Fprintf(&sb, "Layer %d description: %s\n\n", desc.LayerIndex, desc.Description)
	sb.WriteString("The instruction must specify the POST-isolation appearance: ")
	sb.WriteString("only this layer's shape, filled with exactly one solid color, ")
	sb.WriteString("on a fully transparent background. ")
	sb.WriteString("Reply with the instruction text only.")

	return sb.String()
}

// BuildIsolatePrompt 构造抠取调用的提示词。
// 第1层不附带遮挡重建指令，第2层起要求补全被上层遮住的区域；
// 两条路径刻意保持独立，未验证前不合并。
func BuildIsolatePrompt(req IsolateRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Extract layer %d from this layered papercraft artwork.\n\n", req.LayerIndex)
	fmt.Fprintf(&sb, "Target: %s\n\n", req.Description)
	sb.WriteString("Output requirements:\n")
	sb.WriteString("- The layer's pixels filled with EXACTLY ONE solid color (no gradients, no anti-aliased second colors)\n")
	sb.WriteString("- Everything else fully transparent (alpha 0)\n")
	sb.WriteString("- Same canvas size as the input image\n")

	if req.LayerIndex > 1 {
		sb.WriteString("- Reconstruct the regions of this layer that are occluded by layers above it, ")
		sb.WriteString("so the piece is complete as a physical cardstock shape\n")
	}

	return sb.String()
}
