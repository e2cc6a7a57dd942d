package image

import "fmt"

// 透明度约定：alpha==0 视为背景，alpha>0 一律按不透明内容计数。
// 半透明像素（抗锯齿边缘）不单独分档，与源行为保持一致。

// DominantColor 统计不透明像素中出现频率最高的颜色。
// 平局时取扫描序（自上而下、自左而右）最先出现的颜色，保证结果确定。
// 没有不透明像素时返回黑色。
func DominantColor(buf *PixelBuffer) RGB {
	counts := make(map[RGB]int)
	firstSeen := make(map[RGB]int)
	order := 0

	for i := 0; i < len(buf.Pix); i += 4 {
		if buf.Pix[i+3] == 0 {
			continue
		}
		c := RGB{R: buf.Pix[i], G: buf.Pix[i+1], B: buf.Pix[i+2]}
		if _, ok := counts[c]; !ok {
			firstSeen[c] = order
			order++
		}
		counts[c]++
	}

	if len(counts) == 0 {
		return RGB{}
	}

	var best RGB
	bestCount := -1
	for c, n := range counts {
		if n > bestCount || (n == bestCount && firstSeen[c] < firstSeen[best]) {
			best = c
			bestCount = n
		}
	}
	return best
}

// ValidateSingleFill 校验图层是否为单色填充。
// 单次扫描，发现第二种不透明颜色立即短路返回，对大图这是关键的性能特性。
// 全透明图片判为不合规（reason为blank）。
func ValidateSingleFill(buf *PixelBuffer) FillValidation {
	var first *RGB

	for i := 0; i < len(buf.Pix); i += 4 {
		if buf.Pix[i+3] == 0 {
			continue
		}
		c := RGB{R: buf.Pix[i], G: buf.Pix[i+1], B: buf.Pix[i+2]}
		if first == nil {
			first = &c
			continue
		}
		if c != *first {
			return FillValidation{
				Compliant:          false,
				UniqueOpaqueColors: 2,
				Reason: fmt.Sprintf("发现第二种不透明颜色 %s（首色 %s），不满足单色填充",
					c.String(), first.String()),
			}
		}
	}

	if first == nil {
		return FillValidation{
			Compliant:          false,
			UniqueOpaqueColors: 0,
			Reason:             "blank",
		}
	}

	return FillValidation{
		Compliant:          true,
		UniqueOpaqueColors: 1,
		Dominant:           first,
		Reason:             fmt.Sprintf("单色填充合规，唯一颜色 %s", first.String()),
	}
}

// ColorName 固定阈值的就近命名分类器，仅用于人类可读描述，不参与任何控制决策。
// 无法归类时回退为 rgb(r,g,b) 字面量。
func ColorName(c RGB) string {
	r, g, b := int(c.R), int(c.G), int(c.B)

	switch {
	case r > 200 && g > 200 && b > 200:
		return "white"
	case r < 50 && g < 50 && b < 50:
		return "black"
	case r > 200 && g > 200 && b < 100:
		return "yellow"
	case r > 200 && g > 100 && g <= 200 && b < 100:
		return "orange"
	case r > 150 && g < 100 && b < 100:
		return "red"
	case g > 150 && r < 100 && b < 100:
		return "green"
	case b > 150 && r < 100 && g < 100:
		return "blue"
	case r > 100 && b > 100 && g < 100:
		return "purple"
	default:
		return c.String()
	}
}
