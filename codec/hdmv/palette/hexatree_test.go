package palette

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestQuantizeSolidImageYieldsOneColor(t *testing.T) {
	img := solidImage(16, 16, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	pal, err := Quantize(img, 16, ReducePreserveDetail)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if len(pal) != 1 {
		t.Fatalf("got %d colors, want 1", len(pal))
	}
	if pal[0] != (color.RGBA{R: 200, G: 40, B: 40, A: 255}) {
		t.Fatalf("got %v, want the solid source color", pal[0])
	}
}

func TestQuantizeRespectsTargetColorCount(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x + y) * 2), A: 255})
		}
	}

	pal, err := Quantize(img, 16, ReducePreserveDetail)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if len(pal) > 16 {
		t.Fatalf("got %d colors, want at most 16", len(pal))
	}
	if len(pal) < 2 {
		t.Fatalf("got %d colors, want at least 2 for a gradient image", len(pal))
	}
}

func TestQuantizeRejectsOutOfRangeTarget(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{A: 255})
	if _, err := Quantize(img, 1, ReducePreserveDetail); err == nil {
		t.Fatal("Quantize(target=1) = nil error, want error")
	}
	if _, err := Quantize(img, 257, ReducePreserveDetail); err == nil {
		t.Fatal("Quantize(target=257) = nil error, want error")
	}
}

// A palette that's already within budget is left alone: re-quantizing
// its own output at the same target must be a no-op (invariant: the
// quantizer never expands a palette it's handed back).
func TestPaletteIdempotence(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}

	first, err := Quantize(img, 8, ReducePreserveDetail)
	if err != nil {
		t.Fatalf("first Quantize: %v", err)
	}

	swatch := image.NewRGBA(image.Rect(0, 0, len(first), 1))
	for i, c := range first {
		swatch.SetRGBA(i, 0, c)
	}

	second, err := Quantize(swatch, 8, ReducePreserveDetail)
	if err != nil {
		t.Fatalf("second Quantize: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("re-quantizing a %d-color palette at the same target produced %d colors", len(first), len(second))
	}
}

func TestReduceToMinimizeErrorReachesTarget(t *testing.T) {
	q := NewQuantizer(ReduceMinimizeError)
	// One heavily-represented flat plus many single-pixel outliers: under
	// ReduceMinimizeError, ReduceTo still brings the tree down to the
	// target color count.
	for i := 0; i < 200; i++ {
		if err := q.Add(color.RGBA{R: 10, G: 10, B: 10, A: 255}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	for i := 0; i < 8; i++ {
		if err := q.Add(color.RGBA{R: uint8(i * 16), G: 200, B: 200, A: 255}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := q.ReduceTo(4); err != nil {
		t.Fatalf("ReduceTo: %v", err)
	}
	if q.Colors() > 4 {
		t.Fatalf("Colors() = %d, want at most 4", q.Colors())
	}
}
