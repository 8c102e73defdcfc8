/*
NAME
  color.go

DESCRIPTION
  RGB -> YCbCr conversion for HDMV Palette Definition Segment entries:
  limited-range (16-235/16-240) output under the BT.601, BT.709, or
  BT.2020 coefficient sets. The reverse direction (YCbCr -> RGBA) is
  deliberately not provided: palettes are always authored from RGBA
  source assets, never reconstructed from an on-disk PDS.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package palette

import (
	"image/color"
	"math"
)

// Matrix selects the RGB -> YCbCr coefficient set a palette's entries
// are converted with.
type Matrix int

const (
	MatrixDisabled Matrix = iota
	MatrixBT601
	MatrixBT709
	MatrixBT2020
)

type matrixCoeffs struct {
	r, g, b float64
}

var matrixTable = map[Matrix]matrixCoeffs{
	MatrixBT601:  {0.299, 0.587, 0.114},
	MatrixBT709:  {0.2126, 0.7152, 0.0722},
	MatrixBT2020: {0.2627, 0.6780, 0.0593},
}

const (
	limitedOffsetY  = 16.0
	limitedOffsetBR = 128.0
	limitedScaleY   = 219.0 / 255.0
	limitedScaleBR  = 224.0 / 255.0
)

// YCbCrA is one HDMV Palette Definition Segment entry: limited-range
// luma/chroma plus the straight (full-range) alpha channel.
type YCbCrA struct {
	Y, Cb, Cr, A uint8
}

// ToYCbCr converts a full-range RGBA color into a PDS entry under the
// given matrix. MatrixDisabled returns the zero value, matching an
// entry whose YCbCr fields were never populated.
func ToYCbCr(c color.RGBA, m Matrix) YCbCrA {
	coeff, ok := matrixTable[m]
	if !ok {
		return YCbCrA{}
	}

	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	coeffCbR := -coeff.r / (1 - coeff.b)
	coeffCbG := -coeff.g / (1 - coeff.b)
	coeffCrG := -coeff.g / (1 - coeff.r)
	coeffCrB := -coeff.b / (1 - coeff.r)

	y := coeff.r*r + coeff.g*g + coeff.b*b
	cb := 0.5*coeffCbR*r + 0.5*coeffCbG*g + 0.5*b
	cr := 0.5*r + 0.5*coeffCrG*g + 0.5*coeffCrB*b

	return YCbCrA{
		Y:  clampToUint8(math.Round(limitedOffsetY + y*limitedScaleY)),
		Cb: clampToUint8(math.Round(limitedOffsetBR + cb*limitedScaleBR)),
		Cr: clampToUint8(math.Round(limitedOffsetBR + cr*limitedScaleBR)),
		A:  c.A,
	}
}

func clampToUint8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
