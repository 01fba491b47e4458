/**
 * Image Preprocessor
 *
 * Two preprocessing variants are produced for every scanned page:
 * - normal:   median denoise, normalize to [0,1], fixed-threshold binarization
 * - advanced: adaptive threshold, non-local-means denoise, optional deskew
 *
 * OCR runs on both and the merger keeps the richer text.
 */

package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/medscan/internal/config"
)

// Variant names one preprocessing pipeline
type Variant string

const (
	VariantNormal   Variant = "normal"
	VariantAdvanced Variant = "advanced"
)

// Variants lists the pipelines in the order they are run
var Variants = []Variant{VariantNormal, VariantAdvanced}

// OutputName returns the PNG file name used for the image at a 1-based index
func (v Variant) OutputName(index int) string {
	return fmt.Sprintf("%s_preprocessed_%d.png", v, index)
}

// Result is a preprocessed image. The caller owns Mat and must Close it.
type Result struct {
	Variant   Variant
	Mat       gocv.Mat
	SkewAngle float64 // degrees, advanced variant only
	Rotated   bool
}

// Preprocessor applies the configured pipelines to grayscale images
type Preprocessor struct {
	cfg config.PreprocessConfig
}

// NewPreprocessor creates a preprocessor with the given parameters
func NewPreprocessor(cfg config.PreprocessConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// WithDeskew returns a copy of p with skew correction switched on or off
func (p *Preprocessor) WithDeskew(apply bool) *Preprocessor {
	cfg := p.cfg
	cfg.ApplyDeskew = apply
	return &Preprocessor{cfg: cfg}
}

// Apply runs the pipeline for variant over src. src is not modified.
func (p *Preprocessor) Apply(src gocv.Mat, variant Variant) (res Result, err error) {
	if src.Empty() {
		return Result{}, fmt.Errorf("empty input image")
	}
	if src.Type() != gocv.MatTypeCV8UC1 {
		return Result{}, fmt.Errorf("expected 8-bit grayscale input, got mat type %v", src.Type())
	}

	// OpenCV assertion failures surface as panics through cgo.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s preprocessing panicked: %v", variant, r)
		}
	}()

	switch variant {
	case VariantNormal:
		return p.normal(src), nil
	case VariantAdvanced:
		return p.advanced(src, p.cfg.ApplyDeskew), nil
	default:
		return Result{}, fmt.Errorf("unknown preprocessing variant %q", variant)
	}
}

// Normal runs the normal pipeline. The output is two-valued: 0 or 255.
func (p *Preprocessor) Normal(src gocv.Mat) (Result, error) {
	return p.Apply(src, VariantNormal)
}

// Advanced runs the advanced pipeline with the configured deskew setting.
func (p *Preprocessor) Advanced(src gocv.Mat) (Result, error) {
	return p.Apply(src, VariantAdvanced)
}

func (p *Preprocessor) normal(src gocv.Mat) Result {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(src, &blurred, p.cfg.MedianKernel)

	normalized := gocv.NewMat()
	defer normalized.Close()
	blurred.ConvertToWithParams(&normalized, gocv.MatTypeCV32F, 1.0/255.0, 0)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(normalized, &binary, float32(p.cfg.BinaryThreshold), 1.0, gocv.ThresholdBinary)

	out := gocv.NewMat()
	binary.ConvertToWithParams(&out, gocv.MatTypeCV8U, 255, 0)

	return Result{Variant: VariantNormal, Mat: out}
}

func (p *Preprocessor) advanced(src gocv.Mat, applyDeskew bool) Result {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(src, &binary, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary,
		p.cfg.AdaptiveBlockSize, float32(p.cfg.AdaptiveC))

	denoised := gocv.NewMat()
	// Closed on every path, including panics, unless it becomes the result.
	keep := false
	defer func() {
		if !keep {
			denoised.Close()
		}
	}()
	gocv.FastNlMeansDenoisingWithParams(binary, &denoised, float32(p.cfg.DenoiseH),
		p.cfg.DenoiseTemplate, p.cfg.DenoiseSearch)

	res := Result{Variant: VariantAdvanced, Mat: denoised}
	if !applyDeskew {
		keep = true
		return res
	}

	res.SkewAngle = estimateSkew(denoised, p.cfg.Skew)

	// Small angles are noise from the line detector.
	if math.Abs(res.SkewAngle) <= p.cfg.DeskewMinAngle {
		keep = true
		return res
	}

	res.Mat = Rotate(denoised, res.SkewAngle)
	res.Rotated = true
	return res
}

// Rotate turns src by angle degrees about its center, keeping its size.
// Borders are filled by replicating edge pixels.
func Rotate(src gocv.Mat, angle float64) gocv.Mat {
	center := image.Pt(src.Cols()/2, src.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(src.Cols(), src.Rows()),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return dst
}
