package preprocess

import (
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/medscan/internal/config"
)

// Replaced in tests to exercise failure paths.
var estimateSkew = EstimateSkew

// EstimateSkew returns the median angle, in degrees, of the line segments found
// in img. An image without detectable lines has a skew of exactly 0.
func EstimateSkew(img gocv.Mat, cfg config.SkewConfig) float64 {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(img, &edges, float32(cfg.CannyLow), float32(cfg.CannyHigh))

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, cfg.HoughThreshold,
		float32(cfg.MinLineLength), float32(cfg.MaxLineGap))

	angles := make([]float64, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		seg := lines.GetVeciAt(i, 0)
		angles = append(angles, math.Atan2(float64(seg[3]-seg[1]), float64(seg[2]-seg[0])))
	}

	return Median(angles) * 180 / math.Pi
}

// Median returns the middle value of values, averaging the two middle values
// for even counts. The median of no values is 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
