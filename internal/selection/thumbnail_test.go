package selection

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 52, G: 211, B: 153, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailKeepsAspectRatio(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 400, 200), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("thumbnail is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("expected 100x50, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailDoesNotUpscale(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 40, 30), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, _ := png.Decode(bytes.NewReader(out))
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Fatalf("expected original 40x30, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailRejectsGarbageAndBadWidth(t *testing.T) {
	if _, err := Thumbnail([]byte("not an image"), 64); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
	if _, err := Thumbnail(encodePNG(t, 4, 4), 0); err == nil {
		t.Fatal("expected error for zero width")
	}
	if _, err := Thumbnail(encodePNG(t, 4, 4), MaxThumbnailWidth+1); err == nil {
		t.Fatal("expected error for oversized width")
	}
}
