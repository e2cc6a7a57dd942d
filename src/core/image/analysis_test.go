package image

import (
	"testing"
)

// 构造测试用缓冲：pixels按行优先给出 [r,g,b,a]
func newTestBuffer(t *testing.T, width, height int, pixels [][4]uint8) *PixelBuffer {
	t.Helper()
	if len(pixels) != width*height {
		t.Fatalf("像素数量不匹配: 期望 %d, 实际 %d", width*height, len(pixels))
	}
	buf := NewPixelBuffer(width, height)
	for i, p := range pixels {
		buf.Pix[i*4] = p[0]
		buf.Pix[i*4+1] = p[1]
		buf.Pix[i*4+2] = p[2]
		buf.Pix[i*4+3] = p[3]
	}
	return buf
}

func TestValidateSingleFill(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		pixels        [][4]uint8
		wantCompliant bool
		wantCount     int
		wantReason    string
	}{
		{
			name:  "单色合规：上排红色下排透明",
			width: 2, height: 2,
			pixels: [][4]uint8{
				{255, 0, 0, 255}, {255, 0, 0, 255},
				{0, 0, 0, 0}, {0, 0, 0, 0},
			},
			wantCompliant: true,
			wantCount:     1,
		},
		{
			name:  "两红一蓝不合规",
			width: 3, height: 1,
			pixels: [][4]uint8{
				{255, 0, 0, 255}, {255, 0, 0, 255}, {0, 0, 255, 255},
			},
			wantCompliant: false,
			wantCount:     2,
		},
		{
			name:  "全透明判blank",
			width: 2, height: 1,
			pixels: [][4]uint8{
				{0, 0, 0, 0}, {0, 0, 0, 0},
			},
			wantCompliant: false,
			wantCount:     0,
			wantReason:    "blank",
		},
		{
			name:  "半透明按不透明计数",
			width: 2, height: 1,
			pixels: [][4]uint8{
				{255, 0, 0, 128}, {255, 0, 0, 255},
			},
			wantCompliant: true,
			wantCount:     1,
		},
		{
			name:  "同色不同透明度仍合规",
			width: 2, height: 1,
			pixels: [][4]uint8{
				{10, 20, 30, 1}, {10, 20, 30, 200},
			},
			wantCompliant: true,
			wantCount:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := newTestBuffer(t, tt.width, tt.height, tt.pixels)
			got := ValidateSingleFill(buf)
			if got.Compliant != tt.wantCompliant {
				t.Errorf("Compliant = %v, want %v (reason: %s)", got.Compliant, tt.wantCompliant, got.Reason)
			}
			if got.UniqueOpaqueColors != tt.wantCount {
				t.Errorf("UniqueOpaqueColors = %d, want %d", got.UniqueOpaqueColors, tt.wantCount)
			}
			if tt.wantReason != "" && got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if tt.wantCompliant && got.Dominant == nil {
				t.Error("合规结果必须携带Dominant颜色")
			}
		})
	}
}

func TestDominantColor(t *testing.T) {
	t.Run("频率最高者胜出", func(t *testing.T) {
		buf := newTestBuffer(t, 3, 1, [][4]uint8{
			{0, 0, 255, 255}, {255, 0, 0, 255}, {255, 0, 0, 255},
		})
		if got := DominantColor(buf); got != (RGB{R: 255}) {
			t.Errorf("DominantColor = %v, want rgb(255,0,0)", got)
		}
	})

	t.Run("平局取扫描序最先出现的颜色", func(t *testing.T) {
		buf := newTestBuffer(t, 2, 2, [][4]uint8{
			{0, 0, 255, 255}, {255, 0, 0, 255},
			{0, 0, 255, 255}, {255, 0, 0, 255},
		})
		if got := DominantColor(buf); got != (RGB{B: 255}) {
			t.Errorf("DominantColor = %v, want rgb(0,0,255)", got)
		}
	})

	t.Run("全透明返回黑色", func(t *testing.T) {
		buf := NewPixelBuffer(4, 4)
		if got := DominantColor(buf); got != (RGB{}) {
			t.Errorf("DominantColor = %v, want rgb(0,0,0)", got)
		}
	})

	t.Run("纯函数：重复调用结果一致", func(t *testing.T) {
		buf := newTestBuffer(t, 2, 2, [][4]uint8{
			{255, 0, 0, 255}, {255, 0, 0, 255},
			{0, 0, 0, 0}, {0, 0, 0, 0},
		})
		first := DominantColor(buf)
		second := DominantColor(buf)
		if first != second {
			t.Errorf("两次调用结果不一致: %v vs %v", first, second)
		}
		if first != (RGB{R: 255}) {
			t.Errorf("DominantColor = %v, want rgb(255,0,0)", first)
		}
	})
}

func TestColorName(t *testing.T) {
	tests := []struct {
		name     string
		color    RGB
		expected string
	}{
		{"纯红", RGB{255, 0, 0}, "red"},
		{"纯绿", RGB{0, 200, 0}, "green"},
		{"纯蓝", RGB{0, 0, 200}, "blue"},
		{"白色", RGB{250, 250, 250}, "white"},
		{"黑色", RGB{10, 10, 10}, "black"},
		{"黄色", RGB{255, 230, 40}, "yellow"},
		{"橙色", RGB{255, 150, 30}, "orange"},
		{"紫色", RGB{140, 60, 160}, "purple"},
		{"无法归类时回退字面量", RGB{120, 130, 140}, "rgb(120,130,140)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorName(tt.color); got != tt.expected {
				t.Errorf("ColorName(%v) = %q, want %q", tt.color, got, tt.expected)
			}
		})
	}
}

// 基准测试：短路应显著快于全量扫描
func BenchmarkValidateSingleFill_EarlyExit(b *testing.B) {
	buf := NewPixelBuffer(1024, 1024)
	buf.SetRGBA(0, 0, 255, 0, 0, 255)
	buf.SetRGBA(1, 0, 0, 0, 255, 255)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ValidateSingleFill(buf)
	}
}

func BenchmarkValidateSingleFill_FullScan(b *testing.B) {
	buf := NewPixelBuffer(1024, 1024)
	for i := 0; i < len(buf.Pix); i += 4 {
		buf.Pix[i] = 255
		buf.Pix[i+3] = 255
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ValidateSingleFill(buf)
	}
}
