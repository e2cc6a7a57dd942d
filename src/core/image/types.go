package image

import "fmt"

// ImageData 图片数据结构：base64负载 + 格式，是与Oracle、持久层交换的最小单元。
// 一旦创建即视为不可变，替换时整体换新，不做原地修改。
type ImageData struct {
	Data   string `json:"data,omitempty"`   // base64编码的图片数据
	Format string `json:"format,omitempty"` // 图片格式：jpeg, png, webp, gif
}

// Empty 判断图片数据是否为空
func (d ImageData) Empty() bool {
	return d.Data == ""
}

// MIMEType 返回MIME类型
func (d ImageData) MIMEType() string {
	if d.Format == "" {
		return "image/png"
	}
	return "image/" + d.Format
}

// ValidationResult 图片安全验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Error        error  // 错误信息
	SecurityRisk string // 安全风险描述
}

// RGB 不含透明度的颜色三元组
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// String 返回 rgb(r,g,b) 字面量
func (c RGB) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// FillValidation 单色填充校验结果，每次抠图尝试产生一份，仅用于判定与日志
type FillValidation struct {
	Compliant          bool   `json:"compliant"`             // 是否满足单色填充
	UniqueOpaqueColors int    `json:"unique_opaque_colors"`  // 不透明像素的去重颜色数
	Dominant           *RGB   `json:"dominant,omitempty"`    // 主导色（合规时即唯一色）
	Reason             string `json:"reason"`                // 人类可读的判定原因
}
