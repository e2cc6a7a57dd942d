package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ExportFile 导出边界上的一个文件：名字 + 原始字节。
// 落到磁盘、打包zip还是走HTTP下载由调用方决定，这里只负责组装。
type ExportFile struct {
	Name string
	Data []byte
}

// exportLayerSummary layers.json里的单层条目
type exportLayerSummary struct {
	Layer       int    `json:"layer"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning,omitempty"`
	Approved    bool   `json:"approved"`
}

// Export 组装项目导出包：原图 + 每个已定稿图层的定稿图（PNG，保留透明通道）
// + layers.json描述清单。文件名稳定且不重复，图层按两位序号排。
func Export(project *Project) ([]ExportFile, error) {
	if project == nil {
		return nil, fmt.Errorf("项目尚未创建，无可导出内容")
	}

	files := make([]ExportFile, 0, len(project.ApprovedLayers)+2)

	originalExt := project.OriginalImage.Format
	if originalExt == "" {
		originalExt = "png"
	}
	originalBytes, err := base64.StdEncoding.DecodeString(project.OriginalImage.Data)
	if err != nil {
		return nil, fmt.Errorf("解码原图失败: %v", err)
	}
	files = append(files, ExportFile{
		Name: "original." + originalExt,
		Data: originalBytes,
	})

	summaries := make([]exportLayerSummary, 0, len(project.ApprovedLayers))
	for _, layer := range project.ApprovedLayers {
		if layer.WeldedImage == nil {
			return nil, fmt.Errorf("第%d层缺少定稿图，项目状态异常", layer.Index)
		}
		layerBytes, err := base64.StdEncoding.DecodeString(layer.WeldedImage.Data)
		if err != nil {
			return nil, fmt.Errorf("解码第%d层定稿图失败: %v", layer.Index, err)
		}
		files = append(files, ExportFile{
			Name: fmt.Sprintf("layer_%02d.png", layer.Index),
			Data: layerBytes,
		})
		summaries = append(summaries, exportLayerSummary{
			Layer:       layer.Index,
			Description: layer.Description,
			Reasoning:   layer.Reasoning,
			Approved:    layer.Approved,
		})
	}

	manifest, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("生成图层清单失败: %v", err)
	}
	files = append(files, ExportFile{Name: "layers.json", Data: manifest})

	return files, nil
}
