package processor

import (
	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/preprocess"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/textnorm"
)

// MergedResult is the OCR text kept for one source image
type MergedResult struct {
	Ref           scanner.ImageRef
	Text          string
	Chosen        preprocess.Variant
	NormalWords   int
	AdvancedWords int
	Partial       bool // only one variant produced a result
}

// pick keeps the text with more whitespace-delimited words. Ties favor normal.
func pick(normal, advanced string) (string, preprocess.Variant) {
	if textnorm.WordCount(advanced) > textnorm.WordCount(normal) {
		return advanced, preprocess.VariantAdvanced
	}
	return normal, preprocess.VariantNormal
}

// CompareOutputs pairs normal and advanced OCR texts by position and keeps the
// richer text of each pair. Sequences of different lengths cannot be paired
// and are rejected.
func CompareOutputs(normal, advanced []string) ([]string, error) {
	if len(normal) != len(advanced) {
		return nil, apperrors.NewAlignmentMismatchError(len(normal), len(advanced))
	}

	final := make([]string, len(normal))
	for i := range normal {
		final[i], _ = pick(normal[i], advanced[i])
	}
	return final, nil
}

// MergeByID merges OCR results keyed by image ID, in the order of refs. An
// image with a result for only one variant keeps that result and is marked
// Partial; an image with neither is left out.
func MergeByID(refs []scanner.ImageRef, normal, advanced map[uuid.UUID]*OCRResult) []MergedResult {
	merged := make([]MergedResult, 0, len(refs))
	for _, ref := range refs {
		n, hasNormal := normal[ref.ID]
		a, hasAdvanced := advanced[ref.ID]
		if m, ok := mergeOne(ref, n, a, hasNormal && n != nil, hasAdvanced && a != nil); ok {
			merged = append(merged, m)
		}
	}
	return merged
}

func mergeOne(ref scanner.ImageRef, normal, advanced *OCRResult, hasNormal, hasAdvanced bool) (MergedResult, bool) {
	switch {
	case hasNormal && hasAdvanced:
		text, chosen := pick(normal.Text, advanced.Text)
		return MergedResult{
			Ref:           ref,
			Text:          text,
			Chosen:        chosen,
			NormalWords:   textnorm.WordCount(normal.Text),
			AdvancedWords: textnorm.WordCount(advanced.Text),
		}, true
	case hasNormal:
		return MergedResult{
			Ref:         ref,
			Text:        normal.Text,
			Chosen:      preprocess.VariantNormal,
			NormalWords: textnorm.WordCount(normal.Text),
			Partial:     true,
		}, true
	case hasAdvanced:
		return MergedResult{
			Ref:           ref,
			Text:          advanced.Text,
			Chosen:        preprocess.VariantAdvanced,
			AdvancedWords: textnorm.WordCount(advanced.Text),
			Partial:       true,
		}, true
	default:
		return MergedResult{}, false
	}
}
