package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var dataURLPattern = regexp.MustCompile(`data:image/(png|jpeg|jpg|webp|gif);base64,([A-Za-z0-9+/=]+)`)

// ParseDescriptionJSON 从模型回复中解析图层描述。
// 模型偶尔会包裹markdown围栏或附带前后缀文本，取首尾花括号之间的内容解析。
func ParseDescriptionJSON(raw string, layerIndex int) (*LayerDescription, error) {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("回复中没有JSON对象: %q", truncate(trimmed, 120))
	}

	var parsed struct {
		Description string `json:"description"`
		Reasoning   string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("解析描述JSON失败: %v", err)
	}
	if parsed.Description == "" {
		return nil, fmt.Errorf("描述字段为空")
	}

	return &LayerDescription{
		LayerIndex:  layerIndex,
		Description: parsed.Description,
		Reasoning:   parsed.Reasoning,
	}, nil
}

// ExtractDataURLImage 从文本回复中提取 data:image/... 内联图片
func ExtractDataURLImage(content string) (format, base64Data string, ok bool) {
	matches := dataURLPattern.FindStringSubmatch(content)
	if len(matches) != 3 {
		return "", "", false
	}
	format = matches[1]
	if format == "jpg" {
		format = "jpeg"
	}
	return format, matches[2], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
