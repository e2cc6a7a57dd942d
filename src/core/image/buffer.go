package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器

	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// PixelBuffer 解码后的RGBA像素网格，行优先，每像素4字节（非预乘）。
// 仅作为分析与合成的临时载体，按需重算，从不持久化。
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelBuffer 创建全透明的像素缓冲
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// Decode 将图片数据解码为像素缓冲
func Decode(data ImageData) (*PixelBuffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("base64解码失败: %v", err)}
	}
	return DecodeBytes(raw)
}

// DecodeBytes 从原始字节解码
func DecodeBytes(raw []byte) (*PixelBuffer, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	bounds := img.Bounds()

	// PNG解码通常直接得到NRGBA，走零转换路径保证半透明像素无损
	if n, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) && n.Stride == bounds.Dx()*4 {
		return &PixelBuffer{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Pix:    n.Pix,
		}, nil
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)

	return &PixelBuffer{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    nrgba.Pix,
	}, nil
}

// Encode 将像素缓冲编码为PNG图片数据，保留透明通道
func (b *PixelBuffer) Encode() (ImageData, error) {
	nrgba := &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * 4,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, nrgba); err != nil {
		return ImageData{}, fmt.Errorf("PNG编码失败: %v", err)
	}

	return ImageData{
		Data:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format: "png",
	}, nil
}

// RGBA 读取指定坐标的像素
func (b *PixelBuffer) RGBA(x, y int) (r, g, bl, a uint8) {
	i := (y*b.Width + x) * 4
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// SetRGBA 写入指定坐标的像素
func (b *PixelBuffer) SetRGBA(x, y int, r, g, bl, a uint8) {
	i := (y*b.Width + x) * 4
	b.Pix[i] = r
	b.Pix[i+1] = g
	b.Pix[i+2] = bl
	b.Pix[i+3] = a
}

// Clone 深拷贝像素缓冲
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}
