package image

import "fmt"

// DecodeError 输入字节不是可解码的光栅图片
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("图片解码失败: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError 焊接输入的宽高不一致
type DimensionMismatchError struct {
	WantWidth  int
	WantHeight int
	GotWidth   int
	GotHeight  int
	LayerPos   int // 第几个历史图层（0为当前图层之后的第一个）
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("焊接输入尺寸不一致: 期望 %dx%d，图层[%d]为 %dx%d",
		e.WantWidth, e.WantHeight, e.LayerPos, e.GotWidth, e.GotHeight)
}
