package palette

import (
	"image/color"
	"testing"
)

func TestToYCbCrDisabledMatrixIsZero(t *testing.T) {
	got := ToYCbCr(color.RGBA{R: 200, G: 40, B: 40, A: 255}, MatrixDisabled)
	if got != (YCbCrA{}) {
		t.Fatalf("MatrixDisabled = %+v, want the zero value", got)
	}
}

func TestToYCbCrBlackAndWhiteBT601(t *testing.T) {
	black := ToYCbCr(color.RGBA{A: 255}, MatrixBT601)
	if black.Y != 16 || black.Cb != 128 || black.Cr != 128 {
		t.Fatalf("black = %+v, want Y=16 Cb=128 Cr=128", black)
	}

	white := ToYCbCr(color.RGBA{R: 255, G: 255, B: 255, A: 255}, MatrixBT601)
	if white.Y != 235 {
		t.Fatalf("white.Y = %d, want 235", white.Y)
	}
	if white.Cb != 128 || white.Cr != 128 {
		t.Fatalf("white chroma = %+v, want Cb=128 Cr=128 (neutral gray)", white)
	}
}

func TestToYCbCrPreservesAlpha(t *testing.T) {
	got := ToYCbCr(color.RGBA{R: 10, G: 20, B: 30, A: 77}, MatrixBT709)
	if got.A != 77 {
		t.Fatalf("A = %d, want 77 (passed through untouched)", got.A)
	}
}
