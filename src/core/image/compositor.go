package image

// Weld 焊接引擎：把当前图层与若干已定稿图层做逐像素掩码并集，
// 并把并集统一染成一种颜色。纯客户端确定性计算，不经过Oracle。
//
// 规则：
//   - 任一输入中不透明的像素，在输出中不透明；
//   - 所有不透明输出像素的RGB完全一致，取当前图层的主导色，
//     调用方给出override时用override；
//   - 所有输入都透明的像素保持全透明（alpha=0）。
//
// 对同一组输入与覆盖色重复焊接得到逐字节一致的掩码（幂等）。
func Weld(current *PixelBuffer, previous []*PixelBuffer, override *RGB) (*PixelBuffer, error) {
	for pos, layer := range previous {
		if layer.Width != current.Width || layer.Height != current.Height {
			return nil, &DimensionMismatchError{
				WantWidth:  current.Width,
				WantHeight: current.Height,
				GotWidth:   layer.Width,
				GotHeight:  layer.Height,
				LayerPos:   pos,
			}
		}
	}

	fill := DominantColor(current)
	if override != nil {
		fill = *override
	}

	out := NewPixelBuffer(current.Width, current.Height)
	for i := 0; i < len(out.Pix); i += 4 {
		opaque := current.Pix[i+3] > 0
		if !opaque {
			for _, layer := range previous {
				if layer.Pix[i+3] > 0 {
					opaque = true
					break
				}
			}
		}
		if opaque {
			out.Pix[i] = fill.R
			out.Pix[i+1] = fill.G
			out.Pix[i+2] = fill.B
			out.Pix[i+3] = 255
		}
	}

	return out, nil
}
