package imgproc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestDecodeBase64(t *testing.T) {
	raw := []byte("hello image bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		payload string
		want    []byte
		wantErr bool
	}{
		{"raw base64", encoded, raw, false},
		{"data url", "data:image/jpeg;base64," + encoded, raw, false},
		{"header without media type", "base64," + encoded, raw, false},
		{"surrounding whitespace", " " + encoded + " ", raw, false},
		{"invalid base64", "!!!not-base64!!!", nil, true},
		{"invalid after data url header", "data:image/png;base64,???", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBase64() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeBase64() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeRGBFromPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	out, err := NormalizeRGB(buf.Bytes())
	if err != nil {
		t.Fatalf("NormalizeRGB() error: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a decodable JPEG: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Errorf("output bounds = %v, want 4x4", img.Bounds())
	}
}

func TestNormalizeRGBCompositesTransparencyOverWhite(t *testing.T) {
	// Fully transparent source must come out white, not black.
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	out, err := NormalizeRGB(buf.Bytes())
	if err != nil {
		t.Fatalf("NormalizeRGB() error: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}

	r, g, b, _ := img.At(4, 4).RGBA()
	// JPEG is lossy; white should still be near 0xffff per channel.
	for name, v := range map[string]uint32{"r": r, "g": g, "b": b} {
		if v < 0xf000 {
			t.Errorf("channel %s = %#x, transparency not composited over white", name, v)
		}
	}
}

func TestNormalizeRGBRejectsGarbage(t *testing.T) {
	if _, err := NormalizeRGB([]byte("definitely not an image")); err == nil {
		t.Fatal("expected error for undecodable bytes")
	}
	if _, err := NormalizeRGB(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
