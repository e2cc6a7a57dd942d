package image

import (
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := newTestBuffer(t, 2, 2, [][4]uint8{
		{255, 0, 0, 255}, {0, 255, 0, 128},
		{0, 0, 255, 255}, {0, 0, 0, 0},
	})

	encoded, err := src.Encode()
	if err != nil {
		t.Fatalf("Encode失败: %v", err)
	}
	if encoded.Format != "png" {
		t.Errorf("Format = %q, want png", encoded.Format)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode失败: %v", err)
	}
	if decoded.Width != 2 || decoded.Height != 2 {
		t.Fatalf("尺寸 = %dx%d, want 2x2", decoded.Width, decoded.Height)
	}
	for i := range src.Pix {
		if src.Pix[i] != decoded.Pix[i] {
			t.Fatalf("像素字节 %d 不一致: %d vs %d", i, src.Pix[i], decoded.Pix[i])
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("非法base64", func(t *testing.T) {
		_, err := Decode(ImageData{Data: "!!!不是base64!!!", Format: "png"})
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("期望DecodeError, 实际 %v", err)
		}
	})

	t.Run("非图片字节", func(t *testing.T) {
		_, err := DecodeBytes([]byte("这不是一张图片"))
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("期望DecodeError, 实际 %v", err)
		}
	})
}
