package scanner

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
)

// Load decodes the image behind ref as an 8-bit single-channel matrix.
// The caller owns the returned Mat and must Close it.
func Load(ref ImageRef) (gocv.Mat, error) {
	src, err := imaging.Open(ref.Path)
	if err != nil {
		return gocv.NewMat(), apperrors.NewLoadFailedError(ref.ID.String(), ref.Path, err)
	}

	gray := toGray(src)
	if gray.Rect.Empty() {
		return gocv.NewMat(), apperrors.NewLoadFailedError(ref.ID.String(), ref.Path, fmt.Errorf("image has no pixels"))
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return gocv.NewMat(), apperrors.NewLoadFailedError(ref.ID.String(), ref.Path, err)
	}
	return mat, nil
}

// toGray collapses any decoded image to luminance. imaging.Grayscale leaves
// R=G=B, so the red channel is the gray value.
func toGray(src image.Image) *image.Gray {
	nrgba := imaging.Grayscale(src)
	b := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = row[x*4]
		}
	}
	return gray
}
