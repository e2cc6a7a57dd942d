package image

import (
	"bytes"
	"errors"
	"testing"
)

// 收集不透明像素下标，便于断言掩码并集
func opaqueSet(buf *PixelBuffer) map[int]bool {
	set := make(map[int]bool)
	for i := 0; i < len(buf.Pix); i += 4 {
		if buf.Pix[i+3] > 0 {
			set[i/4] = true
		}
	}
	return set
}

func TestWeld(t *testing.T) {
	t.Run("掩码并集且统一染色为当前层主导色", func(t *testing.T) {
		// 第一层：上排不透明红色
		current := newTestBuffer(t, 2, 2, [][4]uint8{
			{255, 0, 0, 255}, {255, 0, 0, 255},
			{0, 0, 0, 0}, {0, 0, 0, 0},
		})
		// 第二层：仅左下角不透明蓝色
		previous := newTestBuffer(t, 2, 2, [][4]uint8{
			{0, 0, 0, 0}, {0, 0, 0, 0},
			{0, 0, 255, 255}, {0, 0, 0, 0},
		})

		out, err := Weld(current, []*PixelBuffer{previous}, nil)
		if err != nil {
			t.Fatalf("Weld失败: %v", err)
		}

		want := map[int]bool{0: true, 1: true, 2: true}
		got := opaqueSet(out)
		if len(got) != len(want) {
			t.Fatalf("不透明像素数 = %d, want %d", len(got), len(want))
		}
		for idx := range want {
			if !got[idx] {
				t.Errorf("像素 %d 应当不透明", idx)
			}
			r, g, b, a := out.RGBA(idx%2, idx/2)
			if r != 255 || g != 0 || b != 0 || a != 255 {
				t.Errorf("像素 %d 颜色 = (%d,%d,%d,%d), want (255,0,0,255)", idx, r, g, b, a)
			}
		}
		// 右下角保持全透明
		if _, _, _, a := out.RGBA(1, 1); a != 0 {
			t.Errorf("右下角应保持透明, alpha = %d", a)
		}
	})

	t.Run("覆盖色优先于主导色", func(t *testing.T) {
		current := newTestBuffer(t, 1, 1, [][4]uint8{{255, 0, 0, 255}})
		override := &RGB{R: 1, G: 2, B: 3}

		out, err := Weld(current, nil, override)
		if err != nil {
			t.Fatalf("Weld失败: %v", err)
		}
		if r, g, b, _ := out.RGBA(0, 0); r != 1 || g != 2 || b != 3 {
			t.Errorf("覆盖色未生效: (%d,%d,%d)", r, g, b)
		}
	})

	t.Run("幂等：重复焊接掩码逐字节一致", func(t *testing.T) {
		current := newTestBuffer(t, 2, 2, [][4]uint8{
			{255, 0, 0, 255}, {255, 0, 0, 255},
			{0, 0, 0, 0}, {0, 0, 0, 0},
		})
		previous := newTestBuffer(t, 2, 2, [][4]uint8{
			{0, 0, 0, 0}, {0, 0, 0, 0},
			{0, 0, 255, 255}, {0, 0, 0, 0},
		})

		first, err := Weld(current, []*PixelBuffer{previous}, nil)
		if err != nil {
			t.Fatalf("首次Weld失败: %v", err)
		}
		// 单色输入的主导色重算必然稳定，再焊一次必须逐字节相同
		second, err := Weld(first, nil, nil)
		if err != nil {
			t.Fatalf("再次Weld失败: %v", err)
		}
		if !bytes.Equal(first.Pix, second.Pix) {
			t.Error("重复焊接结果不一致，幂等性被破坏")
		}
	})

	t.Run("全透明当前层配合历史层", func(t *testing.T) {
		current := NewPixelBuffer(2, 1)
		previous := newTestBuffer(t, 2, 1, [][4]uint8{
			{0, 200, 0, 255}, {0, 0, 0, 0},
		})
		override := &RGB{G: 200}

		out, err := Weld(current, []*PixelBuffer{previous}, override)
		if err != nil {
			t.Fatalf("Weld失败: %v", err)
		}
		if _, g, _, a := out.RGBA(0, 0); g != 200 || a != 255 {
			t.Errorf("历史层像素未并入: g=%d a=%d", g, a)
		}
	})

	t.Run("尺寸不一致报DimensionMismatchError", func(t *testing.T) {
		current := NewPixelBuffer(2, 2)
		previous := NewPixelBuffer(3, 2)

		_, err := Weld(current, []*PixelBuffer{previous}, nil)
		var mismatch *DimensionMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("期望DimensionMismatchError, 实际 %v", err)
		}
		if mismatch.GotWidth != 3 || mismatch.WantWidth != 2 {
			t.Errorf("错误字段不正确: %+v", mismatch)
		}
	})
}
